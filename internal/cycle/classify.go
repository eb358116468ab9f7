// Package cycle implements the activity classifier and the run-cycle state
// machine for a single monitored thermostat. The package has no external
// dependencies beyond the domain models and never reads the wall clock;
// callers inject "now", which keeps every transition deterministic and
// testable.
package cycle

import "strings"

// Classified modes. LastActiveMode only ever holds one of the first three.
const (
	ModeHeating = "heating"
	ModeCooling = "cooling"
	ModeFanOnly = "fanonly"
	ModeIdle    = "idle"
)

// hvac_action values that always count as moving air.
var activeActions = map[string]struct{}{
	"heating": {},
	"cooling": {},
	"fan":     {},
}

// fan_mode values that mean air is circulating even while hvac_action is idle.
var activeFanModes = map[string]struct{}{
	"on":        {},
	"on_high":   {},
	"circulate": {},
}

// IsActive reports whether the attribute set describes a system that is
// moving air. Unknown or missing values never count as active.
func IsActive(attrs map[string]any) bool {
	action, _ := attrs["hvac_action"].(string)
	if _, ok := activeActions[action]; ok {
		return true
	}
	if action == "idle" {
		if fan, ok := attrs["fan_mode"].(string); ok {
			_, active := activeFanModes[normalizeFanMode(fan)]
			return active
		}
	}
	return false
}

// ClassifyMode maps the attribute set to one of heating, cooling, fanonly,
// or idle. Idle with an actively circulating fan classifies as fanonly.
func ClassifyMode(attrs map[string]any) string {
	action, _ := attrs["hvac_action"].(string)
	switch action {
	case "heating":
		return ModeHeating
	case "cooling":
		return ModeCooling
	case "fan":
		return ModeFanOnly
	case "idle":
		if fan, ok := attrs["fan_mode"].(string); ok {
			if _, active := activeFanModes[normalizeFanMode(fan)]; active {
				return ModeFanOnly
			}
		}
	}
	return ModeIdle
}

// isActiveMode reports whether m is one of the three active modes.
func isActiveMode(m string) bool {
	return m == ModeHeating || m == ModeCooling || m == ModeFanOnly
}

func normalizeFanMode(fan string) string {
	return strings.ToLower(strings.TrimSpace(fan))
}
