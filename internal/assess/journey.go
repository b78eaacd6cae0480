package assess

import (
	"fmt"

	"github.com/empowerher/riskgrid/internal/model"
)

// JourneyPoint is the grid classification of one track sample.
type JourneyPoint struct {
	Index    int              `json:"point_index"`
	Point    model.TrackPoint `json:"location"`
	RiskZone model.Tier       `json:"risk_zone"`
	Score    float64          `json:"score"`
}

// Alert flags a journey point inside a high-risk cell.
type Alert struct {
	Index   int              `json:"point_index"`
	Type    string           `json:"alert_type"`
	Message string           `json:"message"`
	Point   model.TrackPoint `json:"location"`
}

// JourneySummary counts points per zone class. High includes critical;
// Safe includes low and safe.
type JourneySummary struct {
	TotalPoints  int `json:"total_points"`
	HighRisk     int `json:"high_risk_points"`
	MediumRisk   int `json:"medium_risk_points"`
	Safe         int `json:"safe_points"`
	Unclassified int `json:"unclassified_points"`
}

// Journey is the outcome of tracking a sequence of points.
type Journey struct {
	UserID   string         `json:"user_id"`
	Summary  JourneySummary `json:"journey_summary"`
	Alerts   []Alert        `json:"alerts"`
	Analysis []JourneyPoint `json:"journey_analysis"`
}

const alertHighRiskArea = "high_risk_area"

// Journey classifies every point against one grid table, so a concurrent
// rebuild cannot split a journey across two tables.
func (s *Service) Journey(userID string, points []model.TrackPoint) (Journey, error) {
	if len(points) == 0 {
		return Journey{}, &model.ValidationError{Problems: []string{"locations must not be empty"}}
	}
	var problems []string
	for i, p := range points {
		if err := model.ValidateCoordinates(p.Latitude, p.Longitude); err != nil {
			problems = append(problems, fmt.Sprintf("point %d: %v", i, err))
		}
	}
	if len(problems) > 0 {
		return Journey{}, &model.ValidationError{Problems: problems}
	}

	table, err := s.grid.Current()
	if err != nil {
		return Journey{}, err
	}
	if userID == "" {
		userID = DefaultUserID
	}

	j := Journey{
		UserID:   userID,
		Summary:  JourneySummary{TotalPoints: len(points)},
		Alerts:   []Alert{},
		Analysis: make([]JourneyPoint, len(points)),
	}
	for i, p := range points {
		info := table.Lookup(p.Latitude, p.Longitude)
		jp := JourneyPoint{Index: i, Point: p, RiskZone: info.Tier}
		if info.Cell != nil {
			jp.Score = info.Cell.Score
		}
		j.Analysis[i] = jp

		switch info.Tier {
		case model.TierHigh, model.TierCritical:
			j.Summary.HighRisk++
			j.Alerts = append(j.Alerts, Alert{
				Index:   i,
				Type:    alertHighRiskArea,
				Message: fmt.Sprintf("High risk area detected at point %d", i+1),
				Point:   p,
			})
		case model.TierMedium:
			j.Summary.MediumRisk++
		case model.TierLow, model.TierSafe:
			j.Summary.Safe++
		default:
			j.Summary.Unclassified++
		}
	}
	return j, nil
}
