package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"smartfilterpro/internal/models"

	"github.com/google/uuid"
)

type CycleEventSQLite struct {
	db *sql.DB
}

func NewCycleEventSQLite(db *sql.DB) *CycleEventSQLite { return &CycleEventSQLite{db: db} }

var _ CycleEventRepo = (*CycleEventSQLite)(nil)

// SQLite TIMESTAMP format, used for both stored values and range args so
// string comparison in WHERE clauses stays consistent.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// Append inserts a new event. If EventID or OccurredAt are empty, they're set.
func (r *CycleEventSQLite) Append(ctx context.Context, e models.CycleEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	} else {
		e.OccurredAt = e.OccurredAt.UTC()
	}

	// marshal metadata if present
	var metaPtr *string
	if e.Metadata != nil {
		if b, err := json.Marshal(e.Metadata); err == nil {
			s := string(b)
			metaPtr = &s
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cycle_events (id, occurred_at, type, mode, runtime_s, meta)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		e.EventID,
		e.OccurredAt.Format(sqliteTimeLayout),
		normalizeEventType(e.Type),
		strings.ToLower(strings.TrimSpace(e.Mode)),
		e.RuntimeSeconds,
		metaPtr,
	)

	return err
}

// List returns events filtered by [from, to] (inclusive) and/or type,
// newest first.
func (r *CycleEventSQLite) List(ctx context.Context, from, to time.Time, typ string) ([]models.CycleEvent, error) {
	var (
		conds []string
		args  []any
	)

	if !from.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, from.UTC().Format(sqliteTimeLayout))
	}
	if !to.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, to.UTC().Format(sqliteTimeLayout))
	}
	if typ = normalizeEventType(typ); typ != "" {
		conds = append(conds, "type = ?")
		args = append(args, typ)
	}

	q := `SELECT id, occurred_at, type, mode, runtime_s, meta FROM cycle_events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at DESC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.CycleEvent, 0, 64)
	for rows.Next() {
		var ev models.CycleEvent
		var runtime sql.NullInt64
		var metaStr sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.OccurredAt, &ev.Type, &ev.Mode, &runtime, &metaStr); err != nil {
			return nil, err
		}
		ev.OccurredAt = ev.OccurredAt.UTC()

		if runtime.Valid {
			secs := runtime.Int64
			ev.RuntimeSeconds = &secs
		}
		if metaStr.Valid && metaStr.String != "" {
			var v any
			if err := json.Unmarshal([]byte(metaStr.String), &v); err == nil {
				ev.Metadata = v
			} else {
				ev.Metadata = metaStr.String // keep raw if malformed
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeEventType trims and lowercases a cycle event type ("start"/"end").
func normalizeEventType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
