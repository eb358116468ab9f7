package service

import (
	"context"

	"go.uber.org/zap"

	"smartfilterpro/internal/cloud"
	"smartfilterpro/internal/metrics"
	"smartfilterpro/internal/models"
	"smartfilterpro/internal/repository"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Telemetry runs the cycle pipeline: snapshots in via Ingest, payloads out
// through the outbox. Run blocks until ctx is canceled.
type Telemetry interface {
	Run(ctx context.Context) error
	Ingest() chan<- models.Snapshot
	State(ctx context.Context) (models.HvacState, error)
	SendNow(ctx context.Context) error
	Subscribe() (<-chan models.CycleEvent, func())
}

// EventLog exposes the recorded cycle boundaries with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.CycleEvent, error)
}

// Status keeps the filter-usage snapshot fresh and triggers resets.
type Status interface {
	Run(ctx context.Context)
	Current() (models.FilterStatus, bool)
	RefreshNow(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Outbox queues telemetry payloads and delivers them to the cloud without
// ever blocking the pipeline.
type Outbox interface {
	Run(ctx context.Context)
	Enqueue(p models.TelemetryPayload)
}

//
// Root Service aggregates all sub-services.
//

type Service struct {
	Telemetry
	EventLog
	Status
	Outbox
	Authorization
}

// Deps carries everything the sub-services need; main wires it once.
type Deps struct {
	Repos      *repository.Repository
	Cloud      *cloud.Client
	Identity   Identity
	Metrics    *metrics.Metrics
	Log        *zap.SugaredLogger
	EntityID   string
	Device     DeviceMeta
	SigningKey string
}

func NewService(d Deps) *Service {
	outbox := NewOutboxService(d.Cloud, d.Metrics, d.Log)
	return &Service{
		Telemetry:     NewTelemetryService(d.Repos.RunState, d.Repos.Events, outbox, d.Identity, d.EntityID, d.Device, d.Metrics, d.Log),
		EventLog:      NewEventLogService(d.Repos.Events),
		Status:        NewStatusService(d.Cloud, d.Identity, d.Metrics, d.Log),
		Outbox:        outbox,
		Authorization: NewAuthService(d.Repos.Auth, d.SigningKey),
	}
}
