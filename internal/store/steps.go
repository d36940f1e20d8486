package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lockplane/downshift/internal/executor"
	"github.com/lockplane/downshift/internal/validation"
)

// LogStep upserts the log row of one step. It runs on the store's own pool,
// outside the migration transaction.
func (s *Store) LogStep(ctx context.Context, log *executor.StepLog) error {
	logged := log.LoggedAt
	if logged.IsZero() {
		logged = s.now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO downshift_step_logs (job_id, step, name, statement, status, rows_affected, duration_ms, error, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, step) DO UPDATE SET
			name = excluded.name,
			statement = excluded.statement,
			status = excluded.status,
			rows_affected = excluded.rows_affected,
			duration_ms = excluded.duration_ms,
			error = excluded.error,
			logged_at = excluded.logged_at`,
		log.JobID, log.Step, log.Name, log.Statement, string(log.Status),
		log.RowsAffected, log.DurationMs, log.Error, millis(logged))
	if err != nil {
		return fmt.Errorf("failed to log step %d of job %s: %w", log.Step, log.JobID, err)
	}
	return nil
}

// ListStepLogs returns the step logs of a job in step order.
func (s *Store) ListStepLogs(ctx context.Context, jobID string) ([]executor.StepLog, error) {
	rows, err := s.query(ctx,
		`SELECT job_id, step, name, statement, status, rows_affected, duration_ms, error, logged_at
		FROM downshift_step_logs WHERE job_id = ? ORDER BY step`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []executor.StepLog
	for rows.Next() {
		var (
			l      executor.StepLog
			status string
			logged int64
		)
		if err := rows.Scan(&l.JobID, &l.Step, &l.Name, &l.Statement, &status,
			&l.RowsAffected, &l.DurationMs, &l.Error, &logged); err != nil {
			return nil, fmt.Errorf("failed to scan step log: %w", err)
		}
		l.Status = executor.StepStatus(status)
		l.LoggedAt = fromMillis(logged)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ClearStepLogs removes the step logs of a job before it is planned again.
func (s *Store) ClearStepLogs(ctx context.Context, jobID string) error {
	if _, err := s.exec(ctx, `DELETE FROM downshift_step_logs WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to clear step logs of job %s: %w", jobID, err)
	}
	return nil
}

// RecordCheck upserts one validation check.
func (s *Store) RecordCheck(ctx context.Context, jobID string, check *validation.Check) error {
	offending := check.OffendingRecords
	if offending == nil {
		offending = []string{}
	}
	data, err := json.Marshal(offending)
	if err != nil {
		return fmt.Errorf("failed to marshal offending records: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO downshift_validation_checks (job_id, name, category, status, details, offending_records, offending_count, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, name) DO UPDATE SET
			category = excluded.category,
			status = excluded.status,
			details = excluded.details,
			offending_records = excluded.offending_records,
			offending_count = excluded.offending_count,
			checked_at = excluded.checked_at`,
		jobID, check.Name, check.Category, string(check.Status), check.Details, string(data), check.OffendingCount, millis(s.now()))
	if err != nil {
		return fmt.Errorf("failed to record check %s of job %s: %w", check.Name, jobID, err)
	}
	return nil
}

// ListChecks returns the recorded checks of a job ordered by name.
func (s *Store) ListChecks(ctx context.Context, jobID string) ([]validation.Check, error) {
	rows, err := s.query(ctx,
		`SELECT name, category, status, details, offending_records, offending_count
		FROM downshift_validation_checks WHERE job_id = ? ORDER BY name`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []validation.Check
	for rows.Next() {
		var (
			c         validation.Check
			status    string
			offending string
		)
		if err := rows.Scan(&c.Name, &c.Category, &status, &c.Details, &offending, &c.OffendingCount); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		c.Status = validation.Status(status)
		if err := json.Unmarshal([]byte(offending), &c.OffendingRecords); err != nil {
			return nil, fmt.Errorf("failed to parse offending records of %s: %w", c.Name, err)
		}
		if len(c.OffendingRecords) == 0 {
			c.OffendingRecords = nil
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
