package models

import "time"

// RunState is the tracker's mutable state for the monitored entity.
// ActiveSince is non-nil exactly while a cycle is believed in progress.
type RunState struct {
	ActiveSince    *time.Time `json:"active_since,omitempty"`
	LastAction     string     `json:"last_action,omitempty"`      // last raw hvac_action (may be "idle")
	IsActive       bool       `json:"is_active"`                  // last computed active boolean
	LastActiveMode string     `json:"last_active_mode,omitempty"` // heating | cooling | fanonly, never "idle"
}

// RunStateRecord is the persisted shape of RunState. The active-since
// timestamp is stored as an ISO-8601 string and only when present, so a
// stale or corrupted value can be filtered before it becomes a live
// timestamp again.
type RunStateRecord struct {
	ActiveSinceISO string    `json:"active_since_iso,omitempty"`
	LastAction     string    `json:"last_action,omitempty"`
	IsActive       bool      `json:"is_active"`
	LastActiveMode string    `json:"last_active_mode,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Record converts the live state into its persisted shape.
func (r RunState) Record() RunStateRecord {
	rec := RunStateRecord{
		LastAction:     r.LastAction,
		IsActive:       r.IsActive,
		LastActiveMode: r.LastActiveMode,
	}
	if r.ActiveSince != nil {
		rec.ActiveSinceISO = r.ActiveSince.UTC().Format(time.RFC3339)
	}
	return rec
}
