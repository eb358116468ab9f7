package models

import "time"

// FilterStatus is the most recent filter-usage snapshot polled from the
// backend. Pointer fields stay nil when the backend response lacked the
// value, so "unknown" and "zero" remain distinguishable.
type FilterStatus struct {
	PercentageUsed *float64  `json:"percentage_used,omitempty"`
	TodayMinutes   *float64  `json:"today_minutes,omitempty"`
	TotalMinutes   *float64  `json:"total_minutes,omitempty"`
	DeviceName     string    `json:"device_name,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}
