// Package events delivers state-transition notifications from a run to
// optional observers. Sinks are strictly one-way: a sink error is swallowed
// and never affects control flow.
package events

import "time"

// Event describes one state transition within a run.
type Event struct {
	Timestamp time.Time         `json:"ts"`
	RunID     string            `json:"run_id"`
	State     string            `json:"state"`
	Changed   map[string]string `json:"changed,omitempty"`
}

// Sink consumes transition events. Implementations must not block the run
// and must absorb their own failures.
type Sink interface {
	Emit(ev Event)
}

// Multi fans one event out to several sinks in order.
type Multi []Sink

// Emit delivers ev to every sink.
func (m Multi) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// previewLen bounds changed-field values carried in events.
const previewLen = 160

// Preview collapses newlines and bounds s for inclusion in an event.
func Preview(s string) string {
	out := make([]rune, 0, previewLen)
	for _, r := range s {
		if r == '\n' || r == '\r' {
			r = ' '
		}
		out = append(out, r)
		if len(out) == previewLen {
			return string(out) + "…"
		}
	}
	return string(out)
}
