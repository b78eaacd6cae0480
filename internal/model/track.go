package model

// TrackPoint is one sample of a user's journey.
type TrackPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Time      string  `json:"time,omitempty"` // HH:MM, empty means now
}
