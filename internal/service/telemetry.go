package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartfilterpro/internal/cycle"
	"smartfilterpro/internal/metrics"
	"smartfilterpro/internal/models"
	"smartfilterpro/internal/repository"
)

// ErrNoLiveState means no usable snapshot has arrived yet, so there is
// nothing to send on demand.
var ErrNoLiveState = errors.New("no live climate snapshot yet")

const shutdownSaveTimeout = 3 * time.Second

// TelemetryService owns the cycle tracker. It hydrates persisted state on
// startup, primes itself with the first live snapshot, folds every further
// snapshot through the transition table, and hands the resulting payloads to
// the outbox. The run loop is the tracker's only writer; the read surface
// (State, SendNow) is served under a shared lock.
type TelemetryService struct {
	states   repository.RunStateRepo
	events   repository.CycleEventRepo
	outbox   Outbox
	identity Identity
	entityID string
	device   DeviceMeta
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger

	now    func() time.Time
	ingest chan models.Snapshot

	mu        sync.RWMutex
	tracker   *cycle.Tracker
	lastSnap  *models.Snapshot
	lastSeen  time.Time
	connected bool
	primed    bool

	subMu   sync.Mutex
	subs    map[int]chan models.CycleEvent
	nextSub int
}

func NewTelemetryService(
	states repository.RunStateRepo,
	events repository.CycleEventRepo,
	outbox Outbox,
	identity Identity,
	entityID string,
	device DeviceMeta,
	m *metrics.Metrics,
	log *zap.SugaredLogger,
) *TelemetryService {
	return &TelemetryService{
		states:   states,
		events:   events,
		outbox:   outbox,
		identity: identity,
		entityID: entityID,
		device:   device,
		metrics:  m,
		log:      log,
		now:      time.Now,
		ingest:   make(chan models.Snapshot, 16),
		tracker:  cycle.NewTracker(models.RunState{}),
		subs:     make(map[int]chan models.CycleEvent),
	}
}

var _ Telemetry = (*TelemetryService)(nil)

// Ingest is the channel sources deliver snapshots into.
func (s *TelemetryService) Ingest() chan<- models.Snapshot { return s.ingest }

// Run hydrates persisted state, then processes snapshots until ctx is
// canceled. The final state is saved on the way out.
func (s *TelemetryService) Run(ctx context.Context) error {
	s.hydrate(ctx)

	for {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), shutdownSaveTimeout)
			s.mu.Lock()
			s.persistLocked(sctx)
			s.mu.Unlock()
			cancel()
			return ctx.Err()

		case snap := <-s.ingest:
			s.handleSnapshot(ctx, snap)
		}
	}
}

func (s *TelemetryService) hydrate(ctx context.Context) {
	rec, err := s.states.Load(ctx)
	if err != nil {
		s.log.Warnw("run state load failed, starting fresh", "err", err)
		return
	}

	st, diags := cycle.Hydrate(rec, s.now())
	for _, d := range diags {
		s.log.Warnw("run state hydration", "note", d)
	}

	s.mu.Lock()
	s.tracker = cycle.NewTracker(st)
	s.mu.Unlock()

	if st.ActiveSince != nil {
		s.log.Infow("restored open cycle from storage",
			"active_since", st.ActiveSince.Format(time.RFC3339), "mode", st.LastActiveMode)
	}
}

func (s *TelemetryService) handleSnapshot(ctx context.Context, snap models.Snapshot) {
	now := s.now()

	s.mu.Lock()
	if !s.primed {
		// The first snapshot is the startup alignment: set the tracker to
		// what the equipment is doing right now without emitting a boundary.
		s.primed = true
		if snap.Available {
			if s.tracker.Prime(snap, now) {
				s.log.Infow("started mid-cycle, seeding start to now", "entity_id", snap.EntityID)
			}
			s.persistLocked(ctx)
		}
	}

	res := s.tracker.Process(snap, now)

	s.connected = snap.Available
	if snap.Available {
		cp := snap
		s.lastSnap = &cp
		s.lastSeen = now
		s.persistLocked(ctx)
	}
	s.mu.Unlock()

	for _, d := range res.Diagnostics {
		s.log.Warnw("runtime computation", "note", d)
	}

	if res.Outcome == cycle.OutcomeSkipped {
		s.log.Debugw("skipping unavailable snapshot", "entity_id", snap.EntityID, "state", snap.State)
		s.metrics.Snapshot("skipped")
		s.metrics.SetConnected(false)
		return
	}

	s.metrics.Snapshot("processed")
	s.metrics.SetConnected(true)
	s.metrics.SetActive(res.State.IsActive)

	switch res.Outcome {
	case cycle.OutcomeStart:
		s.log.Infow("cycle start",
			"mode", res.Mode,
			"action", snap.AttrString("hvac_action"),
			"fan_mode", snap.Attr("fan_mode"))
		s.recordBoundary(ctx, models.CycleEvent{
			OccurredAt: now.UTC(),
			Type:       models.CycleEventStart,
			Mode:       res.Mode,
			Metadata:   map[string]any{"entity_id": snap.EntityID},
		})

	case cycle.OutcomeEnd:
		runtime := *res.RuntimeSeconds
		s.log.Infow("cycle end",
			"runtime_s", runtime,
			"lastMode", res.LastMode,
			"action", snap.AttrString("hvac_action"))
		s.metrics.CycleEnded(modeOrUnknown(res.LastMode), runtime)
		meta := map[string]any{"entity_id": snap.EntityID}
		if res.CycleStart != nil {
			meta["cycle_start_ts"] = res.CycleStart.UTC().Format(time.RFC3339Nano)
		}
		if res.CycleEnd != nil {
			meta["cycle_end_ts"] = res.CycleEnd.UTC().Format(time.RFC3339Nano)
		}
		if len(res.Diagnostics) > 0 {
			meta["diagnostics"] = res.Diagnostics
		}
		s.recordBoundary(ctx, models.CycleEvent{
			OccurredAt:     now.UTC(),
			Type:           models.CycleEventEnd,
			Mode:           modeOrUnknown(res.LastMode),
			RuntimeSeconds: res.RuntimeSeconds,
			Metadata:       meta,
		})
	}

	s.outbox.Enqueue(s.buildPayload(snap, res, now))
}

// buildPayload maps one processed snapshot onto the cloud wire shape.
func (s *TelemetryService) buildPayload(snap models.Snapshot, res cycle.Result, now time.Time) models.TelemetryPayload {
	lm := strings.ToLower(strings.TrimSpace(res.LastMode))
	var lastMode *string
	if lm != "" {
		lastMode = &lm
	}

	var cycleStart, cycleEnd *string
	if res.CycleStart != nil {
		v := res.CycleStart.UTC().Format(time.RFC3339Nano)
		cycleStart = &v
	}
	if res.CycleEnd != nil {
		v := res.CycleEnd.UTC().Format(time.RFC3339Nano)
		cycleEnd = &v
	}

	return models.TelemetryPayload{
		UserID:     s.identity.UserID(),
		HvacID:     s.identity.HvacID(),
		HAEntityID: snap.EntityID,
		TS:         now.UTC().Format(time.RFC3339Nano),

		CurrentTemperature: snap.Attr("current_temperature"),
		TargetTemperature:  snap.Attr("temperature"),
		TargetTempHigh:     snap.Attr("target_temp_high"),
		TargetTempLow:      snap.Attr("target_temp_low"),
		HvacMode:           snap.Attr("hvac_mode"),
		HvacStatus:         snap.Attr("hvac_action"),
		FanMode:            snap.Attr("fan_mode"),

		IsActive:       res.State.IsActive,
		RuntimeSeconds: res.RuntimeSeconds,
		CycleStartTS:   cycleStart,
		CycleEndTS:     cycleEnd,

		Connected:    snap.Available,
		DeviceName:   s.deviceName(snap),
		Manufacturer: s.device.Manufacturer,
		Model:        s.device.Model,

		LastMode:            lastMode,
		LastIsHeating:       lm == cycle.ModeHeating,
		LastIsCooling:       lm == cycle.ModeCooling,
		LastIsFanOnly:       lm == cycle.ModeFanOnly,
		LastEquipmentStatus: lastMode,
		IsReachable:         snap.Available,

		Raw: snap.Attributes,
	}
}

// deviceName prefers the host's friendly name, then the configured name,
// then the entity id.
func (s *TelemetryService) deviceName(snap models.Snapshot) string {
	if n := snap.AttrString("friendly_name"); n != "" {
		return n
	}
	if s.device.Name != "" {
		return s.device.Name
	}
	return snap.EntityID
}

// persistLocked saves the tracker state; failures are logged, never fatal.
// Callers hold s.mu.
func (s *TelemetryService) persistLocked(ctx context.Context) {
	if err := s.states.Save(ctx, s.tracker.State().Record()); err != nil {
		s.log.Errorw("run state save failed", "err", err)
	}
}

func (s *TelemetryService) recordBoundary(ctx context.Context, ev models.CycleEvent) {
	if err := s.events.Append(ctx, ev); err != nil {
		s.log.Errorw("cycle event append failed", "err", err)
	}
	s.notify(ev)
}

// State is the read-only view served by the local API.
func (s *TelemetryService) State(_ context.Context) (models.HvacState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.tracker.State()
	out := models.HvacState{
		EntityID:       s.entityID,
		Available:      s.connected,
		IsActive:       st.IsActive,
		ActiveSince:    st.ActiveSince,
		LastAction:     st.LastAction,
		LastActiveMode: st.LastActiveMode,
		UpdatedAt:      s.lastSeen,
	}
	if s.lastSnap != nil {
		out.EntityID = s.lastSnap.EntityID
		out.HvacMode = s.lastSnap.Attr("hvac_mode")
		out.FanMode = s.lastSnap.Attr("fan_mode")
		out.CurrentTemperature = s.lastSnap.Attr("current_temperature")
		out.TargetTemperature = s.lastSnap.Attr("temperature")
	}
	return out, nil
}

// SendNow queues an immediate steady-state payload built from the most
// recent snapshot, without touching the tracker.
func (s *TelemetryService) SendNow(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastSnap == nil || !s.lastSnap.Available {
		return ErrNoLiveState
	}

	classified := cycle.ClassifyMode(s.lastSnap.Attributes)
	lm := classified
	if classified == cycle.ModeIdle {
		lm = s.tracker.State().LastActiveMode
	}

	res := cycle.Result{
		Outcome:  cycle.OutcomePing,
		Mode:     classified,
		LastMode: lm,
		State:    s.tracker.State(),
	}
	s.outbox.Enqueue(s.buildPayload(*s.lastSnap, res, s.now()))
	return nil
}

// Subscribe registers for cycle boundary events. The returned cancel is
// idempotent; a slow subscriber loses events rather than stalling the loop.
func (s *TelemetryService) Subscribe() (<-chan models.CycleEvent, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan models.CycleEvent, 8)
	s.subs[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *TelemetryService) notify(ev models.CycleEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func modeOrUnknown(mode string) string {
	if mode == "" {
		return "unknown"
	}
	return mode
}
