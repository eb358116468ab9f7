package repository

import (
	"context"
	"database/sql"
	"time"

	"smartfilterpro/internal/models"
	"smartfilterpro/internal/repository/db"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.User, error)
}

// RunStateRepo stores the tracker's persisted blob (one row).
type RunStateRepo interface {
	Save(ctx context.Context, rec models.RunStateRecord) error
	Load(ctx context.Context) (models.RunStateRecord, error)
}

// CycleEventRepo is the append-only cycle-boundary log.
type CycleEventRepo interface {
	Append(ctx context.Context, e models.CycleEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.CycleEvent, error)
}

type Repository struct {
	RunState RunStateRepo
	Events   CycleEventRepo
	Auth     Authorization
}

func NewRepository(sqlDB *sql.DB) *Repository {
	return &Repository{
		RunState: NewRunStateSQLite(sqlDB),
		Events:   NewCycleEventSQLite(sqlDB),
		Auth:     NewUserRepository(sqlDB),
	}
}

// InitDB opens the SQLite file and ensures the schema exists.
func InitDB(path string) (*sql.DB, error) {
	return db.InitDB(path)
}
