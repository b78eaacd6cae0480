package model

import "time"

// Verdict is the user's judgement of a past assessment.
type Verdict string

const (
	VerdictGood Verdict = "good"
	VerdictBad  Verdict = "bad"
)

// Feedback is a labeled row produced by the external feedback channel.
// Bad verdicts are folded back into the incident set on the next refresh.
type Feedback struct {
	ID        string    `json:"id"`
	Incident  Incident  `json:"incident"`
	Verdict   Verdict   `json:"verdict"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
}
