package models

import "time"

// Cycle event types recorded in the local log. Steady-state pings are sent to
// the backend but not logged locally.
const (
	CycleEventStart = "start"
	CycleEventEnd   = "end"
)

// CycleEvent is a single cycle-boundary log entry.
type CycleEvent struct {
	EventID        string    `json:"event_id"`
	OccurredAt     time.Time `json:"occurred_at"`
	Type           string    `json:"type"` // start | end
	Mode           string    `json:"mode"` // heating | cooling | fanonly
	RuntimeSeconds *int64    `json:"runtime_seconds,omitempty"`
	Metadata       any       `json:"metadata,omitempty"`
}
