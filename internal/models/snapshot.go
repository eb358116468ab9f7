package models

// Snapshot is one observation of the monitored climate entity, as delivered
// by the host event bus. Attributes carry the raw host attribute map; missing
// keys are simply absent.
type Snapshot struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"` // raw host state, e.g. "heat", "off", "unavailable"
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes"`
}

// Attr returns the named attribute or nil when absent.
func (s Snapshot) Attr(key string) any {
	if s.Attributes == nil {
		return nil
	}
	return s.Attributes[key]
}

// AttrString returns the named attribute when it is a string, else "".
func (s Snapshot) AttrString(key string) string {
	v, _ := s.Attr(key).(string)
	return v
}
