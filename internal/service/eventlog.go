package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"smartfilterpro/internal/models"
	"smartfilterpro/internal/repository"
)

type EventLogService struct {
	eventRepo repository.CycleEventRepo
}

func NewEventLogService(eventRepo repository.CycleEventRepo) *EventLogService {
	return &EventLogService{eventRepo: eventRepo}
}

var _ EventLog = (*EventLogService)(nil)

var (
	errInvalidTimeRange = errors.New("invalid time range: From must be <= To")
	errInvalidEventType = errors.New("invalid event type: want start or end")
)

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeEventType trims spaces and lowercases the event type filter.
func normalizeEventType(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// normalizeAndValidateFilter prepares query parameters and validates the
// time range and event type.
func normalizeAndValidateFilter(f LogFilter) (time.Time, time.Time, string, error) {
	from := normalizeToUTC(f.From)
	to := normalizeToUTC(f.To)

	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, "", errInvalidTimeRange
	}

	eventType := normalizeEventType(f.Type)
	switch eventType {
	case "", models.CycleEventStart, models.CycleEventEnd:
	default:
		return time.Time{}, time.Time{}, "", errInvalidEventType
	}
	return from, to, eventType, nil
}

func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.CycleEvent, error) {
	from, to, typ, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	return s.eventRepo.List(ctx, from, to, typ)
}
