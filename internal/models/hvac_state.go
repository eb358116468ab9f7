package models

import "time"

// HvacState is the read-only view served by the local API: current run state
// plus the interesting attributes of the last processed snapshot.
type HvacState struct {
	EntityID           string     `json:"entity_id"`
	Available          bool       `json:"available"`
	IsActive           bool       `json:"is_active"`
	ActiveSince        *time.Time `json:"active_since,omitempty"`
	LastAction         string     `json:"last_action,omitempty"`
	LastActiveMode     string     `json:"last_active_mode,omitempty"`
	HvacMode           any        `json:"hvac_mode,omitempty"`
	FanMode            any        `json:"fan_mode,omitempty"`
	CurrentTemperature any        `json:"current_temperature,omitempty"`
	TargetTemperature  any        `json:"target_temperature,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
