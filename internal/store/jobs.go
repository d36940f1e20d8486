package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a job.
type JobState string

const (
	JobPending    JobState = "pending"
	JobAnalyzing  JobState = "analyzing"
	JobExporting  JobState = "exporting"
	JobMigrating  JobState = "migrating"
	JobValidating JobState = "validating"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobCancelled  JobState = "cancelled"
)

// Terminal reports whether no component will move the job any further.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is one migration run.
type Job struct {
	ID        string    `json:"id"`
	State     JobState  `json:"state"`
	DryRun    bool      `json:"dry_run"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateJob inserts a pending job with a new UUID.
func (s *Store) CreateJob(ctx context.Context, dryRun bool) (*Job, error) {
	now := s.now()
	job := &Job{
		ID:        uuid.New().String(),
		State:     JobPending,
		DryRun:    dryRun,
		CreatedAt: now.Truncate(time.Millisecond),
		UpdatedAt: now.Truncate(time.Millisecond),
	}
	_, err := s.exec(ctx,
		`INSERT INTO downshift_jobs (id, state, dry_run, error, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?)`,
		job.ID, string(job.State), boolInt(dryRun), millis(now), millis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// GetJob returns a job or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.queryRow(ctx,
		`SELECT id, state, dry_run, error, created_at, updated_at FROM downshift_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs first. limit <= 0 returns all.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	query := `SELECT id, state, dry_run, error, created_at, updated_at FROM downshift_jobs ORDER BY created_at DESC, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// SetJobState moves a job to state and records errText (empty clears it).
func (s *Store) SetJobState(ctx context.Context, id string, state JobState, errText string) error {
	res, err := s.exec(ctx,
		`UPDATE downshift_jobs SET state = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(state), errText, millis(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job              Job
		state            string
		dryRun           int64
		created, updated int64
	)
	if err := row.Scan(&job.ID, &state, &dryRun, &job.Error, &created, &updated); err != nil {
		return nil, err
	}
	job.State = JobState(state)
	job.DryRun = dryRun != 0
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	return &job, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
