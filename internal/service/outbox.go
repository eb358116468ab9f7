package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"smartfilterpro/internal/cloud"
	"smartfilterpro/internal/metrics"
	"smartfilterpro/internal/models"
)

const (
	outboxDepth  = 64
	drainTimeout = 5 * time.Second
)

// OutboxService decouples snapshot processing from backend latency: payloads
// are queued and posted by a single worker. When the queue is full the
// newest payload is dropped; the backend aggregates, so a lost ping costs
// nothing and a lost boundary is corrected by the next one.
type OutboxService struct {
	cloud   *cloud.Client
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	queue   chan models.TelemetryPayload
}

func NewOutboxService(c *cloud.Client, m *metrics.Metrics, log *zap.SugaredLogger) *OutboxService {
	return &OutboxService{
		cloud:   c,
		metrics: m,
		log:     log,
		queue:   make(chan models.TelemetryPayload, outboxDepth),
	}
}

var _ Outbox = (*OutboxService)(nil)

// Enqueue never blocks the caller.
func (o *OutboxService) Enqueue(p models.TelemetryPayload) {
	select {
	case o.queue <- p:
	default:
		o.metrics.TelemetrySend("dropped")
		o.log.Warnw("outbox full, dropping payload", "ts", p.TS)
	}
}

// Run posts queued payloads until ctx is canceled, then drains what is
// already queued under a short grace period. Individual sends are bounded
// by the client's request timeout, not by ctx, so an in-flight post
// finishes during shutdown instead of being dropped.
func (o *OutboxService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			o.drain()
			return
		case p := <-o.queue:
			o.send(context.Background(), p)
		}
	}
}

func (o *OutboxService) drain() {
	dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case p := <-o.queue:
			o.send(dctx, p)
		default:
			return
		}
	}
}

func (o *OutboxService) send(ctx context.Context, p models.TelemetryPayload) {
	if err := o.cloud.SendTelemetry(ctx, p); err != nil {
		o.metrics.TelemetrySend("error")
		o.log.Errorw("telemetry send failed", "err", err, "ts", p.TS)
		return
	}
	o.metrics.TelemetrySend("ok")
}
