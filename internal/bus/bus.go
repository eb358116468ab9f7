// Package bus streams climate entity snapshots from Home Assistant into the
// tracking pipeline. Two sources are provided: the native WebSocket event
// stream and an MQTT statestream fold for installs that already mirror state
// over a broker.
package bus

import (
	"context"

	"smartfilterpro/internal/models"
)

// Source delivers snapshots into ingest until ctx is canceled. Run blocks;
// it returns ctx.Err() on shutdown or a fatal setup error (bad credentials,
// unreachable broker past the retry limit).
type Source interface {
	Run(ctx context.Context, ingest chan<- models.Snapshot) error
}

// stateAvailable reports whether an entity state string carries usable data.
func stateAvailable(state string) bool {
	return state != "" && state != "unavailable" && state != "unknown"
}
