package repository_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"smartfilterpro/internal/models"
	"smartfilterpro/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestRunStateSQLite_Save_SetsUTCNow_WhenTimeZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer func(db *sql.DB) {
		err := db.Close()
		if err != nil {

		}
	}(db)

	repo := repository.NewRunStateSQLite(db)

	// Prepare inputs: zero UpdatedAt should be replaced by time.Now().UTC().
	rec := models.RunStateRecord{
		ActiveSinceISO: "2026-01-01T10:00:00Z",
		LastAction:     "heating",
		IsActive:       true,
		LastActiveMode: "heating",
		// UpdatedAt is zero
	}

	// Matchers for arguments.
	isUTCRecent := sqlmockArgumentFunc(func(v driver.Value) bool {
		tm, ok := v.(time.Time)
		if !ok {
			return false
		}
		// must be in UTC and within a reasonable window from "now"
		if tm.Location() != time.UTC {
			return false
		}
		// allow small delta around now (test execution time)
		now := time.Now().UTC()
		if tm.Before(now.Add(-5*time.Second)) || tm.After(now.Add(5*time.Second)) {
			return false
		}
		return true
	})

	// We don't have direct access to the private SQL constant, so match by fragment.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_state")).
		WithArgs(
			1, // id constant
			rec.ActiveSinceISO,
			rec.LastAction,
			rec.IsActive,
			rec.LastActiveMode,
			isUTCRecent, // UpdatedAt written as UTC "now"
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunStateSQLite_Save_EmptyActiveSinceStoredAsNULL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer func(db *sql.DB) {
		err := db.Close()
		if err != nil {

		}
	}(db)

	repo := repository.NewRunStateSQLite(db)

	locTokyo, _ := time.LoadLocation("Asia/Tokyo")
	original := time.Date(2026, 2, 5, 12, 34, 56, 0, locTokyo) // non-UTC
	expectedUTC := original.UTC()

	rec := models.RunStateRecord{
		ActiveSinceISO: "", // no open cycle -> NULL column
		LastAction:     "idle",
		IsActive:       false,
		LastActiveMode: "cooling",
		UpdatedAt:      original,
	}

	isExactUTC := sqlmockArgumentFunc(func(v driver.Value) bool {
		tm, ok := v.(time.Time)
		if !ok {
			return false
		}
		return tm.Equal(expectedUTC) && tm.Location() == time.UTC
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_state")).
		WithArgs(
			1,
			nil, // empty ActiveSinceISO -> sql.NullString invalid -> NULL
			rec.LastAction,
			rec.IsActive,
			rec.LastActiveMode,
			isExactUTC, // exact UTC-converted input time
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunStateSQLite_Save_ExecErrorIsPropagated(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer func(db *sql.DB) {
		err := db.Close()
		if err != nil {

		}
	}(db)

	repo := repository.NewRunStateSQLite(db)

	rec := models.RunStateRecord{
		LastAction:     "heating",
		IsActive:       true,
		LastActiveMode: "heating",
		// UpdatedAt is zero; will be set to now
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_state")).
		WithArgs(
			1,
			nil,
			rec.LastAction,
			rec.IsActive,
			rec.LastActiveMode,
			sqlmock.AnyArg(), // time
		).
		WillReturnError(errors.New("db down"))

	if err := repo.Save(context.Background(), rec); err == nil {
		t.Fatalf("Save() expected error, got nil")
	}
}

func TestRunStateSQLite_Load_NoRowsReturnsZeroValueAndNilError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer func(db *sql.DB) {
		err := db.Close()
		if err != nil {

		}
	}(db)

	repo := repository.NewRunStateSQLite(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT active_since_iso, last_action, is_active, last_active_mode, updated_at")).
		WithArgs(1).
		WillReturnError(sql.ErrNoRows)

	got, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	// zero value expected
	var zero models.RunStateRecord
	if !reflect.DeepEqual(got, zero) {
		t.Fatalf("Load() expected zero record, got: %+v", got)
	}
}

func TestRunStateSQLite_Load_HappyPath_NullableAndUTC(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer func(db *sql.DB) {
		err := db.Close()
		if err != nil {

		}
	}(db)

	repo := repository.NewRunStateSQLite(db)

	// Prepare row data
	cols := []string{"active_since_iso", "last_action", "is_active", "last_active_mode", "updated_at"}
	locNY, _ := time.LoadLocation("America/New_York")
	nonUTC := time.Date(2026, 2, 1, 8, 30, 0, 0, locNY)

	rows := sqlmock.NewRows(cols).
		AddRow(
			"2026-02-01T13:00:00Z",
			"heating",
			true,
			"heating",
			nonUTC, // DB gives a non-UTC time; Load should convert to UTC
		)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT active_since_iso, last_action, is_active, last_active_mode, updated_at")).
		WithArgs(1).
		WillReturnRows(rows)

	got, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if got.ActiveSinceISO != "2026-02-01T13:00:00Z" ||
		got.LastAction != "heating" ||
		!got.IsActive ||
		got.LastActiveMode != "heating" {
		t.Fatalf("Load() unexpected fields: %+v", got)
	}

	if got.UpdatedAt.Location() != time.UTC {
		t.Fatalf("Load() UpdatedAt not UTC: %v (%v)", got.UpdatedAt, got.UpdatedAt.Location())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunStateSQLite_Load_NULLActiveSinceBecomesEmptyString(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer func(db *sql.DB) {
		err := db.Close()
		if err != nil {

		}
	}(db)

	repo := repository.NewRunStateSQLite(db)

	cols := []string{"active_since_iso", "last_action", "is_active", "last_active_mode", "updated_at"}
	rows := sqlmock.NewRows(cols).
		AddRow(
			nil, // closed cycle -> NULL in the DB
			"idle",
			false,
			"fanonly",
			time.Now().UTC(),
		)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT active_since_iso, last_action, is_active, last_active_mode, updated_at")).
		WithArgs(1).
		WillReturnRows(rows)

	got, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if got.ActiveSinceISO != "" {
		t.Fatalf("Load() expected empty ActiveSinceISO, got %q", got.ActiveSinceISO)
	}
	if got.LastActiveMode != "fanonly" || got.IsActive {
		t.Fatalf("Load() unexpected fields: %+v", got)
	}
}

// Helpers

type sqlmockArgumentFunc func(v driver.Value) bool

func (f sqlmockArgumentFunc) Match(v driver.Value) bool {
	return f(v)
}
