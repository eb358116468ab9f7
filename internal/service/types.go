package service

import "time"

// LogFilter narrows cycle history queries.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "start", "end"
}

// DeviceMeta is the configured identity of the tracked thermostat, passed
// through to the cloud with every payload.
type DeviceMeta struct {
	Name         string
	Manufacturer string
	Model        string
}

// Identity supplies the cloud account and equipment ids. The auth layer
// backfills them from the login response when config leaves them blank.
type Identity interface {
	UserID() string
	HvacID() string
}

// StaticIdentity is an Identity fixed at construction, for configs that pin
// both ids and for tests.
type StaticIdentity struct {
	User string
	Hvac string
}

func (s StaticIdentity) UserID() string { return s.User }
func (s StaticIdentity) HvacID() string { return s.Hvac }
