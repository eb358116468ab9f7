package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"smartfilterpro/internal/models"
)

// testClock is a manually advanced clock injected via TelemetryService.now.
type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// stubStateRepo satisfies repository.RunStateRepo and records every save.
type stubStateRepo struct {
	rec     models.RunStateRecord
	loadErr error
	saveErr error
	saves   []models.RunStateRecord
}

func (s *stubStateRepo) Save(_ context.Context, rec models.RunStateRecord) error {
	s.saves = append(s.saves, rec)
	return s.saveErr
}

func (s *stubStateRepo) Load(_ context.Context) (models.RunStateRecord, error) {
	return s.rec, s.loadErr
}

// captureEventRepo satisfies repository.CycleEventRepo and records appends.
type captureEventRepo struct {
	appended  []models.CycleEvent
	appendErr error
}

func (c *captureEventRepo) Append(_ context.Context, e models.CycleEvent) error {
	c.appended = append(c.appended, e)
	return c.appendErr
}

func (c *captureEventRepo) List(_ context.Context, _, _ time.Time, _ string) ([]models.CycleEvent, error) {
	return nil, nil
}

// captureOutbox satisfies Outbox and records enqueued payloads. It is
// mutex-guarded so it can be shared with a running loop.
type captureOutbox struct {
	mu   sync.Mutex
	sent []models.TelemetryPayload
}

func (c *captureOutbox) Run(ctx context.Context) {}

func (c *captureOutbox) Enqueue(p models.TelemetryPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, p)
}

func (c *captureOutbox) Sent() []models.TelemetryPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.TelemetryPayload, len(c.sent))
	copy(out, c.sent)
	return out
}

func climateSnap(action string, extra map[string]any) models.Snapshot {
	attrs := map[string]any{"hvac_action": action, "fan_mode": "auto"}
	for k, v := range extra {
		attrs[k] = v
	}
	return models.Snapshot{
		EntityID:   "climate.downstairs",
		State:      "heat",
		Available:  true,
		Attributes: attrs,
	}
}

func unavailableSnap() models.Snapshot {
	return models.Snapshot{EntityID: "climate.downstairs", State: "unavailable", Available: false}
}

func newTelemetryForTest(t *testing.T, states *stubStateRepo) (*TelemetryService, *captureEventRepo, *captureOutbox, *testClock) {
	t.Helper()
	events := &captureEventRepo{}
	out := &captureOutbox{}
	clk := &testClock{now: time.Date(2026, time.January, 10, 8, 0, 0, 0, time.UTC)}

	svc := NewTelemetryService(
		states, events, out,
		StaticIdentity{User: "u1", Hvac: "hv1"},
		"climate.downstairs",
		DeviceMeta{Name: "Downstairs", Manufacturer: "Trane", Model: "XR14"},
		nil, zap.NewNop().Sugar(),
	)
	svc.now = clk.Now
	return svc, events, out, clk
}

func TestTelemetry_FirstSnapshotPrimesWithoutBoundary(t *testing.T) {
	states := &stubStateRepo{}
	svc, events, out, clk := newTelemetryForTest(t, states)
	ctx := context.Background()

	svc.hydrate(ctx)
	svc.handleSnapshot(ctx, climateSnap("heating", nil))

	sent := out.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(sent))
	}
	p := sent[0]
	if !p.IsActive {
		t.Errorf("expected isActive true on primed mid-cycle snapshot")
	}
	if p.RuntimeSeconds != nil || p.CycleStartTS != nil || p.CycleEndTS != nil {
		t.Errorf("priming must not report a boundary: %+v", p)
	}
	if p.LastMode == nil || *p.LastMode != "heating" {
		t.Errorf("lastMode = %v; want heating", p.LastMode)
	}

	if len(events.appended) != 0 {
		t.Fatalf("no boundary events expected during priming, got %d", len(events.appended))
	}

	if len(states.saves) == 0 {
		t.Fatal("expected primed state to be persisted")
	}
	last := states.saves[len(states.saves)-1]
	if !last.IsActive {
		t.Errorf("persisted IsActive = false; want true")
	}
	if want := clk.now.UTC().Format(time.RFC3339); last.ActiveSinceISO != want {
		t.Errorf("persisted ActiveSinceISO = %q; want %q", last.ActiveSinceISO, want)
	}
}

func TestTelemetry_StartThenEndEmitsBoundaries(t *testing.T) {
	states := &stubStateRepo{}
	svc, events, out, clk := newTelemetryForTest(t, states)
	ctx := context.Background()

	svc.hydrate(ctx)
	svc.handleSnapshot(ctx, climateSnap("idle", nil))

	clk.Advance(time.Minute)
	startAt := clk.now
	svc.handleSnapshot(ctx, climateSnap("heating", nil))

	clk.Advance(10 * time.Minute)
	endAt := clk.now
	svc.handleSnapshot(ctx, climateSnap("idle", nil))

	sent := out.Sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 payloads, got %d", len(sent))
	}

	if sent[0].IsActive {
		t.Errorf("primed idle payload should be inactive")
	}

	start := sent[1]
	if !start.IsActive || start.RuntimeSeconds != nil || start.CycleStartTS != nil {
		t.Errorf("start payload wrong: %+v", start)
	}

	end := sent[2]
	if end.IsActive {
		t.Errorf("end payload should be inactive")
	}
	if end.RuntimeSeconds == nil || *end.RuntimeSeconds != 600 {
		t.Fatalf("end runtime = %v; want 600", end.RuntimeSeconds)
	}
	if end.CycleStartTS == nil || *end.CycleStartTS != startAt.UTC().Format(time.RFC3339Nano) {
		t.Errorf("cycle_start_ts = %v; want %s", end.CycleStartTS, startAt.UTC().Format(time.RFC3339Nano))
	}
	if end.CycleEndTS == nil || *end.CycleEndTS != endAt.UTC().Format(time.RFC3339Nano) {
		t.Errorf("cycle_end_ts = %v; want %s", end.CycleEndTS, endAt.UTC().Format(time.RFC3339Nano))
	}
	if end.LastMode == nil || *end.LastMode != "heating" {
		t.Errorf("end lastMode = %v; want heating", end.LastMode)
	}
	if !end.LastIsHeating || end.LastIsCooling || end.LastIsFanOnly {
		t.Errorf("end last-mode flags wrong: %+v", end)
	}
	if end.LastEquipmentStatus == nil || *end.LastEquipmentStatus != "heating" {
		t.Errorf("lastEquipmentStatus = %v; want heating", end.LastEquipmentStatus)
	}

	if len(events.appended) != 2 {
		t.Fatalf("expected 2 boundary events, got %d", len(events.appended))
	}
	if ev := events.appended[0]; ev.Type != models.CycleEventStart || ev.Mode != "heating" || ev.RuntimeSeconds != nil {
		t.Errorf("start event wrong: %+v", ev)
	}
	if ev := events.appended[1]; ev.Type != models.CycleEventEnd || ev.Mode != "heating" ||
		ev.RuntimeSeconds == nil || *ev.RuntimeSeconds != 600 {
		t.Errorf("end event wrong: %+v", ev)
	}
}

func TestTelemetry_SubscribersGetBoundariesOnly(t *testing.T) {
	svc, _, _, clk := newTelemetryForTest(t, &stubStateRepo{})
	ctx := context.Background()
	svc.hydrate(ctx)

	ch, cancel := svc.Subscribe()

	svc.handleSnapshot(ctx, climateSnap("idle", nil))
	select {
	case ev := <-ch:
		t.Fatalf("no event expected for priming ping, got %+v", ev)
	default:
	}

	clk.Advance(time.Minute)
	svc.handleSnapshot(ctx, climateSnap("cooling", nil))
	select {
	case ev := <-ch:
		if ev.Type != models.CycleEventStart || ev.Mode != "cooling" {
			t.Fatalf("unexpected start event: %+v", ev)
		}
	default:
		t.Fatal("expected start event on subscription channel")
	}

	clk.Advance(time.Minute)
	svc.handleSnapshot(ctx, climateSnap("idle", nil))
	select {
	case ev := <-ch:
		if ev.Type != models.CycleEventEnd || ev.RuntimeSeconds == nil || *ev.RuntimeSeconds != 60 {
			t.Fatalf("unexpected end event: %+v", ev)
		}
	default:
		t.Fatal("expected end event on subscription channel")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
	cancel() // idempotent
}

func TestTelemetry_UnavailableSnapshotLeavesStateUntouched(t *testing.T) {
	states := &stubStateRepo{}
	svc, events, out, clk := newTelemetryForTest(t, states)
	ctx := context.Background()

	svc.hydrate(ctx)
	svc.handleSnapshot(ctx, climateSnap("heating", nil))

	sentBefore := len(out.Sent())
	savesBefore := len(states.saves)

	clk.Advance(time.Minute)
	svc.handleSnapshot(ctx, unavailableSnap())

	if got := len(out.Sent()); got != sentBefore {
		t.Fatalf("unavailable snapshot must not produce a payload, got %d new", got-sentBefore)
	}
	if len(states.saves) != savesBefore {
		t.Fatalf("unavailable snapshot must not persist state")
	}

	st, err := svc.State(ctx)
	if err != nil {
		t.Fatalf("State returned error: %v", err)
	}
	if !st.IsActive {
		t.Errorf("tracked cycle should survive an unavailable snapshot")
	}
	if st.Available {
		t.Errorf("state should report the entity as unavailable")
	}

	// Coming back with the same action is a ping, not a second start.
	clk.Advance(time.Minute)
	svc.handleSnapshot(ctx, climateSnap("heating", nil))
	if len(events.appended) != 0 {
		t.Fatalf("expected no boundary events, got %+v", events.appended)
	}
}

func TestTelemetry_SaveFailuresDoNotBlockPayloads(t *testing.T) {
	states := &stubStateRepo{saveErr: errors.New("disk full")}
	svc, _, out, _ := newTelemetryForTest(t, states)
	ctx := context.Background()

	svc.hydrate(ctx)
	svc.handleSnapshot(ctx, climateSnap("heating", nil))

	if len(out.Sent()) != 1 {
		t.Fatalf("payload should be enqueued even when persistence fails")
	}
}

func TestTelemetry_PayloadFieldMapping(t *testing.T) {
	svc, _, out, clk := newTelemetryForTest(t, &stubStateRepo{})
	ctx := context.Background()
	svc.hydrate(ctx)

	attrs := map[string]any{
		"friendly_name":       "Downstairs Thermostat",
		"current_temperature": 21.5,
		"temperature":         22.0,
		"target_temp_high":    24.0,
		"target_temp_low":     18.0,
		"hvac_mode":           "heat",
	}
	svc.handleSnapshot(ctx, climateSnap("heating", attrs))

	sent := out.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(sent))
	}
	p := sent[0]

	if p.UserID != "u1" || p.HvacID != "hv1" {
		t.Errorf("identity fields wrong: user=%q hvac=%q", p.UserID, p.HvacID)
	}
	if p.HAEntityID != "climate.downstairs" {
		t.Errorf("ha_entity_id = %q", p.HAEntityID)
	}
	if want := clk.now.UTC().Format(time.RFC3339Nano); p.TS != want {
		t.Errorf("ts = %q; want %q", p.TS, want)
	}
	if p.HvacMode != "heat" {
		t.Errorf("hvac_mode must come from the attribute map, got %v", p.HvacMode)
	}
	if p.TargetTemperature != 22.0 {
		t.Errorf("target_temperature = %v; want 22", p.TargetTemperature)
	}
	if p.TargetTempHigh != 24.0 || p.TargetTempLow != 18.0 {
		t.Errorf("target range wrong: %v / %v", p.TargetTempHigh, p.TargetTempLow)
	}
	if p.CurrentTemperature != 21.5 {
		t.Errorf("current_temperature = %v", p.CurrentTemperature)
	}
	if p.HvacStatus != "heating" {
		t.Errorf("hvac_status = %v; want heating", p.HvacStatus)
	}
	if p.DeviceName != "Downstairs Thermostat" {
		t.Errorf("device_name should prefer friendly_name, got %q", p.DeviceName)
	}
	if p.Manufacturer != "Trane" || p.Model != "XR14" {
		t.Errorf("device meta wrong: %q %q", p.Manufacturer, p.Model)
	}
	if !p.Connected || !p.IsReachable {
		t.Errorf("connected/isReachable should be true for a live snapshot")
	}
	if p.Raw == nil || p.Raw["friendly_name"] != "Downstairs Thermostat" {
		t.Errorf("raw attribute map missing or wrong: %v", p.Raw)
	}
}

func TestTelemetry_DeviceNameFallsBackToConfigThenEntity(t *testing.T) {
	svc, _, out, _ := newTelemetryForTest(t, &stubStateRepo{})
	ctx := context.Background()
	svc.hydrate(ctx)

	// No friendly_name attribute: configured name wins.
	svc.handleSnapshot(ctx, climateSnap("idle", nil))
	if got := out.Sent()[0].DeviceName; got != "Downstairs" {
		t.Errorf("device_name = %q; want configured name", got)
	}

	// No configured name either: entity id.
	svc2, _, out2, _ := newTelemetryForTest(t, &stubStateRepo{})
	svc2.device = DeviceMeta{}
	svc2.hydrate(ctx)
	svc2.handleSnapshot(ctx, climateSnap("idle", nil))
	if got := out2.Sent()[0].DeviceName; got != "climate.downstairs" {
		t.Errorf("device_name = %q; want entity id", got)
	}
}

func TestTelemetry_SendNow(t *testing.T) {
	svc, _, out, clk := newTelemetryForTest(t, &stubStateRepo{})
	ctx := context.Background()
	svc.hydrate(ctx)

	if err := svc.SendNow(ctx); !errors.Is(err, ErrNoLiveState) {
		t.Fatalf("expected ErrNoLiveState before the first snapshot, got %v", err)
	}

	// Run one heating cycle so LastActiveMode is set, ending idle.
	svc.handleSnapshot(ctx, climateSnap("heating", nil))
	clk.Advance(5 * time.Minute)
	svc.handleSnapshot(ctx, climateSnap("idle", nil))

	before := len(out.Sent())
	if err := svc.SendNow(ctx); err != nil {
		t.Fatalf("SendNow returned error: %v", err)
	}

	sent := out.Sent()
	if len(sent) != before+1 {
		t.Fatalf("expected one on-demand payload, got %d new", len(sent)-before)
	}
	p := sent[len(sent)-1]
	if p.IsActive {
		t.Errorf("on-demand payload should mirror the idle tracker state")
	}
	if p.RuntimeSeconds != nil || p.CycleStartTS != nil || p.CycleEndTS != nil {
		t.Errorf("on-demand payload must not carry boundary fields: %+v", p)
	}
	if p.LastMode == nil || *p.LastMode != "heating" {
		t.Errorf("on-demand lastMode = %v; want heating from the tracked state", p.LastMode)
	}
}

func TestTelemetry_RestoredCycleSurvivesRestart(t *testing.T) {
	clkStart := time.Date(2026, time.January, 10, 8, 0, 0, 0, time.UTC)
	activeSince := clkStart.Add(-30 * time.Minute)

	states := &stubStateRepo{rec: models.RunStateRecord{
		ActiveSinceISO: activeSince.Format(time.RFC3339),
		LastAction:     "heating",
		IsActive:       true,
		LastActiveMode: "heating",
	}}
	svc, _, out, clk := newTelemetryForTest(t, states)
	ctx := context.Background()

	svc.hydrate(ctx)
	svc.handleSnapshot(ctx, climateSnap("heating", nil)) // prime keeps restored start

	clk.Advance(10 * time.Minute)
	svc.handleSnapshot(ctx, climateSnap("idle", nil))

	sent := out.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(sent))
	}
	end := sent[1]
	if end.RuntimeSeconds == nil || *end.RuntimeSeconds != 40*60 {
		t.Fatalf("runtime should span the restored start: got %v, want 2400", end.RuntimeSeconds)
	}
	if end.CycleStartTS == nil || *end.CycleStartTS != activeSince.Format(time.RFC3339Nano) {
		t.Errorf("cycle_start_ts = %v; want restored %s", end.CycleStartTS, activeSince.Format(time.RFC3339Nano))
	}
}

func TestTelemetry_RunLoopProcessesIngest(t *testing.T) {
	states := &stubStateRepo{}
	svc, _, out, _ := newTelemetryForTest(t, states)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	svc.Ingest() <- climateSnap("heating", nil)

	deadline := time.Now().Add(2 * time.Second)
	for len(out.Sent()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the run loop to process a snapshot")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v; want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	// Final state save happens on the way out.
	if len(states.saves) == 0 {
		t.Fatal("expected at least one persisted state")
	}
}
