package models

// TelemetryPayload is the wire shape the backend ingest endpoint expects.
// Attribute-derived fields use `any` so null, number, and string values all
// pass through exactly as the host reported them. Runtime and cycle fields
// are pointers: they are null except on a cycle end.
type TelemetryPayload struct {
	UserID     string `json:"user_id"`
	HvacID     string `json:"hvac_id"`
	HAEntityID string `json:"ha_entity_id"`
	TS         string `json:"ts"`

	CurrentTemperature any `json:"current_temperature"`
	TargetTemperature  any `json:"target_temperature"`
	TargetTempHigh     any `json:"target_temp_high"`
	TargetTempLow      any `json:"target_temp_low"`
	HvacMode           any `json:"hvac_mode"`
	HvacStatus         any `json:"hvac_status"` // raw hvac_action
	FanMode            any `json:"fan_mode"`

	IsActive       bool    `json:"isActive"`
	RuntimeSeconds *int64  `json:"runtime_seconds"`
	CycleStartTS   *string `json:"cycle_start_ts"`
	CycleEndTS     *string `json:"cycle_end_ts"`

	Connected    bool   `json:"connected"`
	DeviceName   string `json:"device_name"`
	Manufacturer string `json:"thermostat_manufacturer"`
	Model        string `json:"thermostat_model"`

	LastMode            *string `json:"lastMode"`
	LastIsHeating       bool    `json:"lastIsHeating"`
	LastIsCooling       bool    `json:"lastIsCooling"`
	LastIsFanOnly       bool    `json:"lastIsFanOnly"`
	LastEquipmentStatus *string `json:"lastEquipmentStatus"` // mirrors lastMode
	IsReachable         bool    `json:"isReachable"`

	Raw map[string]any `json:"raw"`
}
