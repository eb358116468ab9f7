package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartfilterpro/internal/cloud"
	"smartfilterpro/internal/metrics"
	"smartfilterpro/internal/models"
)

const (
	statusPollInterval = 20 * time.Minute
	resetSettleDelay   = 3 * time.Second
)

// StatusService polls the backend for the computed filter wear numbers and
// caches the latest answer for the local API.
type StatusService struct {
	cloud    *cloud.Client
	identity Identity
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	settle   time.Duration

	mu      sync.RWMutex
	current models.FilterStatus
	ok      bool
}

func NewStatusService(c *cloud.Client, identity Identity, m *metrics.Metrics, log *zap.SugaredLogger) *StatusService {
	return &StatusService{
		cloud:    c,
		identity: identity,
		metrics:  m,
		log:      log,
		settle:   resetSettleDelay,
	}
}

var _ Status = (*StatusService)(nil)

// Run fetches once at startup, then on a fixed poll interval.
func (s *StatusService) Run(ctx context.Context) {
	if err := s.RefreshNow(ctx); err != nil {
		s.log.Warnw("initial filter status fetch failed", "err", err)
	}

	t := time.NewTicker(statusPollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.RefreshNow(ctx); err != nil {
				s.log.Warnw("filter status poll failed", "err", err)
			}
		}
	}
}

func (s *StatusService) RefreshNow(ctx context.Context) error {
	st, err := s.cloud.FetchStatus(ctx, s.identity.HvacID())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = st
	s.ok = true
	s.mu.Unlock()

	s.metrics.SetFilterStatus(st)
	return nil
}

// Current returns the cached status and whether any fetch has succeeded yet.
func (s *StatusService) Current() (models.FilterStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.ok
}

// Reset asks the backend to zero the filter counters, then refreshes the
// cache immediately and once more after the backend has recomputed.
func (s *StatusService) Reset(ctx context.Context) error {
	if err := s.cloud.ResetFilter(ctx, s.identity.UserID(), s.identity.HvacID()); err != nil {
		return err
	}

	if err := s.RefreshNow(ctx); err != nil {
		s.log.Warnw("status refresh after reset failed", "err", err)
	}

	time.AfterFunc(s.settle, func() {
		rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.RefreshNow(rctx); err != nil {
			s.log.Warnw("delayed status refresh after reset failed", "err", err)
		}
	})
	return nil
}
