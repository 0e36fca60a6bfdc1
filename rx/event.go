package rx

import "time"

// Event is emitted once per detection tick that had a full analysis window
// available. Candidate is the frequency that won the current window if it
// passed the confidence gates, Stable is the hold-confirmed decision.
type Event struct {
	Candidate  *float64
	Stable     *float64
	Scores     map[float64]float64
	Confidence float64
	Timestamp  time.Time
}
