package features

import (
	"github.com/empowerher/riskgrid/internal/model"
)

// Feature names of the fixed layout, in order.
const (
	FeatLatitude    = "Latitude"
	FeatLongitude   = "Longitude"
	FeatSeverity    = "Severity"
	FeatHour        = "hour"
	FeatMinute      = "minute"
	FeatIsNight     = "is_night"
	FeatIsEvening   = "is_evening"
	FeatIsMorning   = "is_morning"
	FeatIsAfternoon = "is_afternoon"
	FeatDayOfWeek   = "day_of_week"
	FeatMonth       = "month"
	FeatDay         = "day"
	FeatIsWeekend   = "is_weekend"
)

// baseFeatures is the part of the layout that does not depend on fitting.
var baseFeatures = []string{
	FeatLatitude, FeatLongitude, FeatSeverity,
	FeatHour, FeatMinute, FeatIsNight, FeatIsEvening, FeatIsMorning, FeatIsAfternoon,
	FeatDayOfWeek, FeatMonth, FeatDay, FeatIsWeekend,
}

// scaledFeatures are standardized by the encoder. Indicator flags and
// categorical codes pass through unchanged.
var scaledFeatures = []string{
	FeatLatitude, FeatLongitude, FeatSeverity,
	FeatHour, FeatMinute,
	FeatDayOfWeek, FeatMonth, FeatDay,
}

// EncodedName returns the feature name for a categorical column's code.
func EncodedName(column string) string {
	return "encoded_" + column
}

// Vector is an ordered feature-name → value mapping for one row.
type Vector struct {
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
}

// Get returns the value of a named feature.
func (v Vector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Map returns the vector as a plain map, for wire formats.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.Names))
	for i, n := range v.Names {
		m[n] = v.Values[i]
	}
	return m
}

// Table is a feature matrix with a shared column layout.
type Table struct {
	Names []string    `json:"names"`
	Rows  [][]float64 `json:"rows"`
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Row returns row i as a Vector sharing the table's name slice.
func (t Table) Row(i int) Vector {
	return Vector{Names: t.Names, Values: t.Rows[i]}
}

// Column returns a copy of the named column, nil if absent.
func (t Table) Column(name string) []float64 {
	idx := -1
	for i, n := range t.Names {
		if n == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	col := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		col[i] = r[idx]
	}
	return col
}

// deriveBase produces the unscaled base part of the layout for one incident.
func deriveBase(inc model.Incident) []float64 {
	tf := ParseTime(inc.Time)
	df := ParseDate(inc.Date)
	return []float64{
		inc.Latitude,
		inc.Longitude,
		float64(inc.Severity),
		float64(tf.Hour),
		float64(tf.Minute),
		boolFloat(tf.IsNight),
		boolFloat(tf.IsEvening),
		boolFloat(tf.IsMorning),
		boolFloat(tf.IsAfternoon),
		float64(df.DayOfWeek),
		float64(df.Month),
		float64(df.Day),
		boolFloat(df.IsWeekend),
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
