// Package model defines the shared data types for incident ingest, grid
// classification and risk assessment.
package model

// Incident is a single historical incident record. Incidents are immutable
// once ingested; the grid engine and the feature encoder both read them.
type Incident struct {
	ID        string  `json:"id"`
	Category  string  `json:"category"`
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Date      string  `json:"date"` // YYYY-MM-DD
	Time      string  `json:"time"` // HH:MM
	Severity  int     `json:"severity"`
	Station   string  `json:"station"`
}

// Severity bounds.
const (
	MinSeverity = 1
	MaxSeverity = 5
)

// Column names of the tabular incident format.
const (
	ColID        = "Crime_ID"
	ColCategory  = "Crime_Type"
	ColLocation  = "Location"
	ColLatitude  = "Latitude"
	ColLongitude = "Longitude"
	ColDate      = "Date"
	ColTime      = "Time"
	ColSeverity  = "Severity"
	ColStation   = "Police_Station"
)

// Columns lists the incident columns in their canonical order.
var Columns = []string{
	ColID, ColCategory, ColLocation, ColLatitude, ColLongitude,
	ColDate, ColTime, ColSeverity, ColStation,
}

// Categorical returns the value of a categorical column by name. Unknown
// columns return an empty string.
func (i Incident) Categorical(column string) string {
	switch column {
	case ColCategory:
		return i.Category
	case ColStation:
		return i.Station
	case ColLocation:
		return i.Location
	default:
		return ""
	}
}
