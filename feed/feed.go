// Package feed exposes the detection event stream to downstream consumers:
// a line-oriented TCP feed announcing stable decisions and a websocket feed
// streaming every event as JSON.
package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jmarten/ssvepd/rx"
)

// eventPayload is the wire representation of a detection event. The score
// map is keyed by the frequency's decimal representation because JSON
// objects cannot carry numeric keys.
type eventPayload struct {
	Candidate  *float64           `json:"candidate,omitempty"`
	Stable     *float64           `json:"stable,omitempty"`
	Scores     map[string]float64 `json:"scores"`
	Confidence float64            `json:"confidence"`
	Timestamp  time.Time          `json:"timestamp"`
}

func marshalEvent(event rx.Event) ([]byte, error) {
	scores := make(map[string]float64, len(event.Scores))
	for frequency, score := range event.Scores {
		scores[strconv.FormatFloat(frequency, 'g', -1, 64)] = score
	}
	return json.Marshal(eventPayload{
		Candidate:  event.Candidate,
		Stable:     event.Stable,
		Scores:     scores,
		Confidence: event.Confidence,
		Timestamp:  event.Timestamp,
	})
}

// formatDecision renders one stable decision as a feed line.
func formatDecision(frequency float64, confidence float64, timestamp time.Time) string {
	return fmt.Sprintf("decision %gHz confidence %.2f at %s\n", frequency, confidence, timestamp.UTC().Format("15:04:05.000"))
}
