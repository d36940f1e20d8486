// Package store persists job state: jobs, analysis results, export
// checkpoints, step logs and validation checks. It runs on SQLite, libSQL or
// PostgreSQL; every timestamp is stored as unix milliseconds.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/internal/executor"
	"github.com/lockplane/downshift/internal/export"
	"github.com/lockplane/downshift/internal/validation"
)

// ErrNotFound is returned when a job or analysis does not exist.
var ErrNotFound = errors.New("not found")

var (
	_ export.CheckpointStore   = (*Store)(nil)
	_ executor.StepLogger      = (*Store)(nil)
	_ validation.CheckRecorder = (*Store)(nil)
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS downshift_jobs (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS downshift_analysis (
		job_id TEXT PRIMARY KEY,
		comparison TEXT,
		records TEXT,
		plan TEXT,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS downshift_checkpoints (
		job_id TEXT NOT NULL,
		module TEXT NOT NULL,
		status TEXT NOT NULL,
		records_exported BIGINT NOT NULL DEFAULT 0,
		total_records BIGINT NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL DEFAULT '',
		file_size BIGINT NOT NULL DEFAULT 0,
		started_at BIGINT,
		completed_at BIGINT,
		updated_at BIGINT NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (job_id, module)
	)`,
	`CREATE TABLE IF NOT EXISTS downshift_step_logs (
		job_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		name TEXT NOT NULL,
		statement TEXT NOT NULL,
		status TEXT NOT NULL,
		rows_affected BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		logged_at BIGINT NOT NULL,
		PRIMARY KEY (job_id, step)
	)`,
	`CREATE TABLE IF NOT EXISTS downshift_validation_checks (
		job_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		offending_records TEXT NOT NULL DEFAULT '[]',
		offending_count BIGINT NOT NULL DEFAULT 0,
		checked_at BIGINT NOT NULL,
		PRIMARY KEY (job_id, name)
	)`,
}

// Store is the job store.
type Store struct {
	db  *sql.DB
	gen database.SQLGenerator
	now func() time.Time
}

// Open creates the store tables if needed. The dialect generator supplies
// the parameter placeholders.
func Open(ctx context.Context, db *sql.DB, gen database.SQLGenerator) (*Store, error) {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create job store tables: %w", err)
		}
	}
	return &Store{db: db, gen: gen, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// rebind replaces each '?' with the dialect's positional placeholder.
func (s *Store) rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.gen.ParameterPlaceholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
