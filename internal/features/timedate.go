package features

import (
	"strings"
	"time"
)

// TimeFeatures is the decomposition of an HH:MM time of day.
type TimeFeatures struct {
	Hour        int  `json:"hour"`
	Minute      int  `json:"minute"`
	IsNight     bool `json:"is_night"`
	IsEvening   bool `json:"is_evening"`
	IsMorning   bool `json:"is_morning"`
	IsAfternoon bool `json:"is_afternoon"`
}

// DateFeatures is the decomposition of a YYYY-MM-DD calendar date.
// DayOfWeek counts from Monday = 0.
type DateFeatures struct {
	DayOfWeek int  `json:"day_of_week"`
	Month     int  `json:"month"`
	Day       int  `json:"day"`
	IsWeekend bool `json:"is_weekend"`
}

// Fallbacks used when a time or date string cannot be parsed.
var (
	DefaultTime = TimeFeatures{Hour: 12}
	DefaultDate = DateFeatures{Month: 1, Day: 1}
)

// ParseTime decomposes "HH:MM". Malformed input yields DefaultTime; parsing
// never fails. The indicators overlap at hour 6 (night and morning).
func ParseTime(s string) TimeFeatures {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return DefaultTime
	}
	return TimeFromHour(t.Hour(), t.Minute())
}

// TimeFromHour builds the indicator set for an already-known hour and minute.
func TimeFromHour(hour, minute int) TimeFeatures {
	return TimeFeatures{
		Hour:        hour,
		Minute:      minute,
		IsNight:     IsNightHour(hour),
		IsEvening:   hour >= 18 && hour <= 21,
		IsMorning:   hour >= 6 && hour <= 11,
		IsAfternoon: hour >= 12 && hour <= 17,
	}
}

// IsNightHour reports whether hour falls in the 22:00–06:59 night window.
func IsNightHour(hour int) bool {
	return hour >= 22 || hour <= 6
}

// ParseDate decomposes "YYYY-MM-DD". Malformed input yields DefaultDate.
func ParseDate(s string) DateFeatures {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return DefaultDate
	}
	dow := (int(d.Weekday()) + 6) % 7
	return DateFeatures{
		DayOfWeek: dow,
		Month:     int(d.Month()),
		Day:       d.Day(),
		IsWeekend: dow >= 5,
	}
}
