package cycle

import (
	"fmt"
	"time"

	"smartfilterpro/internal/models"
)

const (
	// MaxRuntimeSeconds caps a computed cycle runtime at 24 hours; anything
	// longer means a stuck or missed cycle end.
	MaxRuntimeSeconds = 86400

	// RestoreWindow bounds how old a persisted active_since may be before
	// startup discards it as stale.
	RestoreWindow = time.Hour
)

// Outcomes of processing one snapshot.
const (
	OutcomeSkipped = "skipped" // unavailable snapshot, nothing changed
	OutcomeStart   = "start"
	OutcomeEnd     = "end"
	OutcomePing    = "ping"
)

// Result describes what one snapshot did to the tracker. RuntimeSeconds,
// CycleStart, and CycleEnd are set only on a cycle end. Diagnostics carry
// anomalies the caller should log; they never stop processing.
type Result struct {
	Outcome        string
	Mode           string // classified mode of this snapshot
	LastMode       string // mode to report as lastMode, "" when unknown
	RuntimeSeconds *int64
	CycleStart     *time.Time
	CycleEnd       *time.Time
	State          models.RunState // state after the transition
	Diagnostics    []string
}

// Tracker owns the RunState of one monitored entity. It is not safe for
// concurrent use; the processing loop is its single writer.
type Tracker struct {
	state models.RunState
}

// NewTracker starts from an already-hydrated state.
func NewTracker(st models.RunState) *Tracker {
	return &Tracker{state: st}
}

// State returns a copy of the current run state.
func (t *Tracker) State() models.RunState {
	return t.state
}

// Hydrate rebuilds a RunState from its persisted record. An active_since
// older than RestoreWindow (or in the future, or unparseable) is discarded;
// other corrupted fields default individually. Hydrate never fails.
func Hydrate(rec models.RunStateRecord, now time.Time) (models.RunState, []string) {
	var diags []string
	st := models.RunState{
		LastAction: rec.LastAction,
		IsActive:   rec.IsActive,
	}

	if rec.LastActiveMode != "" {
		if isActiveMode(rec.LastActiveMode) {
			st.LastActiveMode = rec.LastActiveMode
		} else {
			diags = append(diags, fmt.Sprintf("discarding invalid last_active_mode %q", rec.LastActiveMode))
		}
	}

	if rec.ActiveSinceISO != "" {
		stored, err := time.Parse(time.RFC3339, rec.ActiveSinceISO)
		if err != nil {
			diags = append(diags, fmt.Sprintf("unparseable active_since %q: %v", rec.ActiveSinceISO, err))
			return st, diags
		}
		age := now.Sub(stored)
		if age >= 0 && age < RestoreWindow {
			stored = stored.UTC()
			st.ActiveSince = &stored
		} else {
			diags = append(diags, fmt.Sprintf("discarding stale active_since %s (age %s)", rec.ActiveSinceISO, age))
		}
	}
	return st, diags
}

// Prime aligns the tracker with the first live snapshot after startup,
// without emitting a boundary. When the entity is already active and no
// start time was restored, the true start is unknowable, so now is seeded.
// Returns true if a start time was seeded.
func (t *Tracker) Prime(snap models.Snapshot, now time.Time) bool {
	if !snap.Available {
		return false
	}
	if m := ClassifyMode(snap.Attributes); isActiveMode(m) {
		t.state.LastActiveMode = m
	}
	t.state.LastAction, _ = snap.Attributes["hvac_action"].(string)
	t.state.IsActive = IsActive(snap.Attributes)
	if t.state.ActiveSince == nil && t.state.IsActive {
		seeded := now.UTC()
		t.state.ActiveSince = &seeded
		return true
	}
	return false
}

// Process runs one snapshot through the transition table. Unavailable
// snapshots are skipped entirely so a transient host disconnect cannot
// fabricate a cycle end.
func (t *Tracker) Process(snap models.Snapshot, now time.Time) Result {
	if !snap.Available {
		return Result{Outcome: OutcomeSkipped, Mode: ModeIdle, State: t.state}
	}
	now = now.UTC()

	attrs := snap.Attributes
	action, _ := attrs["hvac_action"].(string)
	classified := ClassifyMode(attrs)
	isActive := IsActive(attrs)
	wasActive := t.state.IsActive

	// Remember the last active mode before the transition, so a cycle end
	// reports the mode that was running right up to the boundary.
	if isActiveMode(classified) {
		t.state.LastActiveMode = classified
	}

	res := Result{Mode: classified}

	switch {
	case !wasActive && isActive:
		res.Outcome = OutcomeStart
		start := now
		t.state.ActiveSince = &start
		res.LastMode = t.reportedMode(classified)

	case wasActive && !isActive:
		res.Outcome = OutcomeEnd
		var start time.Time
		if t.state.ActiveSince != nil {
			start = *t.state.ActiveSince
		}
		secs, diags := RuntimeSeconds(start, now)
		res.RuntimeSeconds = &secs
		res.Diagnostics = diags
		if t.state.ActiveSince != nil {
			cs := start
			res.CycleStart = &cs
		}
		ce := now
		res.CycleEnd = &ce
		t.state.ActiveSince = nil
		res.LastMode = t.state.LastActiveMode

	default:
		res.Outcome = OutcomePing
		res.LastMode = t.reportedMode(classified)
	}

	t.state.LastAction = action
	t.state.IsActive = isActive
	res.State = t.state
	return res
}

// reportedMode picks the lastMode for start and ping payloads: the current
// classification unless idle, in which case whatever was last active.
func (t *Tracker) reportedMode(classified string) string {
	if classified == ModeIdle {
		return t.state.LastActiveMode
	}
	return classified
}

// RuntimeSeconds computes a completed cycle's elapsed seconds with the
// sanity bounds applied: missing timestamps give 0, negative deltas clamp
// to 0, and anything beyond MaxRuntimeSeconds caps there. The returned
// diagnostics record why a clamp happened.
func RuntimeSeconds(start, end time.Time) (int64, []string) {
	if start.IsZero() || end.IsZero() {
		return 0, nil
	}
	secs := int64(end.Sub(start) / time.Second)
	if secs < 0 {
		return 0, []string{fmt.Sprintf("negative runtime %ds (start=%s end=%s), clamping to 0",
			secs, start.Format(time.RFC3339), end.Format(time.RFC3339))}
	}
	if secs > MaxRuntimeSeconds {
		return MaxRuntimeSeconds, []string{fmt.Sprintf("excessive runtime %ds, capping at %ds",
			secs, int64(MaxRuntimeSeconds))}
	}
	return secs, nil
}
