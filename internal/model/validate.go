package model

import (
	"fmt"
	"math"
	"strings"
)

// ValidationError reports out-of-range or missing input fields. It is
// surfaced to the caller and never retried.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation: " + strings.Join(e.Problems, "; ")
}

// ValidateCoordinates checks latitude and longitude ranges.
func ValidateCoordinates(lat, lon float64) error {
	var problems []string
	problems = appendCoordProblems(problems, lat, lon)
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateSeverity checks that severity lies in 1..5.
func ValidateSeverity(severity int) error {
	if severity < MinSeverity || severity > MaxSeverity {
		return &ValidationError{Problems: []string{
			fmt.Sprintf("severity must be between %d and %d", MinSeverity, MaxSeverity),
		}}
	}
	return nil
}

// Validate checks every boundary constraint of an incident and reports all
// problems at once.
func Validate(inc Incident) error {
	var problems []string
	if strings.TrimSpace(inc.ID) == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(inc.Category) == "" {
		problems = append(problems, "category is required")
	}
	problems = appendCoordProblems(problems, inc.Latitude, inc.Longitude)
	if inc.Severity < MinSeverity || inc.Severity > MaxSeverity {
		problems = append(problems, fmt.Sprintf("severity must be between %d and %d", MinSeverity, MaxSeverity))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func appendCoordProblems(problems []string, lat, lon float64) []string {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		problems = append(problems, "latitude must be between -90 and 90")
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		problems = append(problems, "longitude must be between -180 and 180")
	}
	return problems
}
