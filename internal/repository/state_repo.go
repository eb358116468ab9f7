package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"smartfilterpro/internal/models"
)

type RunStateSQLite struct {
	db *sql.DB
}

func NewRunStateSQLite(db *sql.DB) *RunStateSQLite {
	return &RunStateSQLite{db: db}
}

var _ RunStateRepo = (*RunStateSQLite)(nil)

// constants and helpers for clarity and reuse
const (
	runStateRowID = 1

	upsertRunStateSQL = `
		INSERT INTO run_state (id, active_since_iso, last_action, is_active, last_active_mode, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			active_since_iso=excluded.active_since_iso,
			last_action=excluded.last_action,
			is_active=excluded.is_active,
			last_active_mode=excluded.last_active_mode,
			updated_at=excluded.updated_at
	`

	selectRunStateSQL = `
		SELECT active_since_iso, last_action, is_active, last_active_mode, updated_at
		FROM run_state WHERE id=?
	`
)

// Save upserts the run_state row (id always 1). An empty ActiveSinceISO is
// stored as NULL so the column is only ever set while a cycle is open.
func (r *RunStateSQLite) Save(ctx context.Context, rec models.RunStateRecord) error {
	// ensure UpdatedAt is always persisted as UTC; set if zero
	tsUTC := rec.UpdatedAt
	if tsUTC.IsZero() {
		tsUTC = time.Now().UTC()
	} else {
		tsUTC = tsUTC.UTC()
	}

	activeSince := sql.NullString{String: rec.ActiveSinceISO, Valid: rec.ActiveSinceISO != ""}

	_, err := r.db.ExecContext(ctx, upsertRunStateSQL,
		runStateRowID,
		activeSince,
		rec.LastAction,
		rec.IsActive,
		rec.LastActiveMode,
		tsUTC,
	)
	return err
}

// Load fetches the single run_state row (id=1). A missing row is not an
// error: the zero record means "no state persisted yet".
func (r *RunStateSQLite) Load(ctx context.Context) (models.RunStateRecord, error) {
	row := r.db.QueryRowContext(ctx, selectRunStateSQL, runStateRowID)

	var rec models.RunStateRecord
	var activeSince sql.NullString
	if err := row.Scan(
		&activeSince,
		&rec.LastAction,
		&rec.IsActive,
		&rec.LastActiveMode,
		&rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RunStateRecord{}, nil
		}
		return models.RunStateRecord{}, err
	}

	if activeSince.Valid {
		rec.ActiveSinceISO = activeSince.String
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	return rec, nil
}
