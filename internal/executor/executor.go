// Package executor runs a migration plan against the staging database, either
// as a preview or as one transaction.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/internal/locks"
	"github.com/lockplane/downshift/internal/planner"
	"github.com/lockplane/downshift/internal/sqlvalidation"
)

// StepStatus is the logged state of one step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepLog is the persisted record of one step of one job.
type StepLog struct {
	JobID        string     `json:"job_id"`
	Step         int        `json:"step"`
	Name         string     `json:"name"`
	Statement    string     `json:"statement"`
	Status       StepStatus `json:"status"`
	RowsAffected int64      `json:"rows_affected"`
	DurationMs   int64      `json:"duration_ms"`
	Error        string     `json:"error,omitempty"`
	LoggedAt     time.Time  `json:"logged_at"`
}

// StepLogger persists step logs outside the migration transaction.
type StepLogger interface {
	LogStep(ctx context.Context, log *StepLog) error
}

// StepResult is the outcome of one step.
type StepResult struct {
	planner.Step
	Status       StepStatus `json:"status"`
	RowsAffected int64      `json:"rows_affected"`
	DurationMs   int64      `json:"duration_ms"`
	Error        string     `json:"error,omitempty"`
}

// Result is the outcome of one execution.
type Result struct {
	Success    bool         `json:"success"`
	DryRun     bool         `json:"dry_run"`
	RolledBack bool         `json:"rolled_back"`
	Steps      []StepResult `json:"steps"`
	Errors     []string     `json:"errors,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// StepError is returned when a step, or the commit, fails. Every change made
// by the run has been rolled back when it is returned.
type StepError struct {
	Step      int
	Name      string
	Statement string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Step, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// DefaultAcquireTimeout bounds the wait for a staging connection.
const DefaultAcquireTimeout = 10 * time.Second

// Executor runs plans.
type Executor struct {
	steps          StepLogger
	log            logrus.FieldLogger
	acquireTimeout time.Duration
}

// NewExecutor creates an executor. steps may be nil when no step log is kept.
func NewExecutor(steps StepLogger, log logrus.FieldLogger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{steps: steps, log: log, acquireTimeout: DefaultAcquireTimeout}
}

// WithAcquireTimeout sets how long Execute waits for a staging connection.
func (e *Executor) WithAcquireTimeout(d time.Duration) *Executor {
	if d > 0 {
		e.acquireTimeout = d
	}
	return e
}

// Execute runs plan against staging. A dry run sends nothing to staging and
// logs every step as pending. A live run executes every step in order on one
// connection inside one transaction; the first failure rolls everything back
// and the remaining steps are logged as skipped.
//
// Once the transaction has begun it is not cancelled by ctx: it either
// commits or rolls back.
func (e *Executor) Execute(ctx context.Context, jobID string, staging *sql.DB, plan *planner.Plan, dryRun bool) (*Result, error) {
	log := e.log.WithFields(logrus.Fields{"job_id": jobID, "dry_run": dryRun})
	result := &Result{DryRun: dryRun, Steps: make([]StepResult, len(plan.Steps)), StartedAt: time.Now().UTC()}
	for i, step := range plan.Steps {
		result.Steps[i] = StepResult{Step: step, Status: StepPending}
	}

	if dryRun {
		for i := range result.Steps {
			if err := e.record(ctx, jobID, &result.Steps[i]); err != nil {
				return nil, err
			}
		}
		result.Success = true
		result.FinishedAt = time.Now().UTC()
		log.WithField("steps", len(plan.Steps)).Info("Dry run planned")
		return result, nil
	}

	if check := sqlvalidation.ValidatePlanStatements(plan.Steps, plan.Dialect); !check.Valid {
		first := check.Errors()[0]
		return nil, fmt.Errorf("plan failed validation at step %d: %s", first.Step, first.Message)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, e.acquireTimeout)
	conn, err := staging.Conn(acquireCtx)
	cancel()
	if err != nil {
		return nil, &database.ConnectivityError{Target: "staging", Err: err}
	}
	defer func() { _ = conn.Close() }()

	txCtx := context.WithoutCancel(ctx)
	tx, err := conn.BeginTx(txCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	for i := range result.Steps {
		step := &result.Steps[i]
		stepLog := log.WithFields(logrus.Fields{"step": step.Number, "name": step.Name})
		if plan.Dialect == database.DialectPostgres {
			stepLog = stepLog.WithField("lock", locks.DetectLockMode(step.Step))
		}

		step.Status = StepRunning
		if err := e.record(txCtx, jobID, step); err != nil {
			return e.abort(txCtx, jobID, tx, result, i, err, stepLog)
		}

		start := time.Now()
		rows, execErr := execStep(txCtx, tx, step.Statement)
		step.DurationMs = time.Since(start).Milliseconds()
		step.RowsAffected = rows

		if execErr != nil {
			return e.abort(txCtx, jobID, tx, result, i, execErr, stepLog)
		}

		step.Status = StepCompleted
		if err := e.record(txCtx, jobID, step); err != nil {
			return e.abort(txCtx, jobID, tx, result, i, err, stepLog)
		}
		stepLog.WithFields(logrus.Fields{
			"rows":        rows,
			"duration_ms": step.DurationMs,
		}).Info("Step completed")
	}

	if err := tx.Commit(); err != nil {
		log.WithError(err).Error("Commit failed, migration rolled back")
		result.RolledBack = true
		result.Errors = append(result.Errors, fmt.Sprintf("commit: %v", err))
		result.FinishedAt = time.Now().UTC()
		return result, &StepError{Step: len(plan.Steps) + 1, Name: "commit", Err: err}
	}

	result.Success = true
	result.FinishedAt = time.Now().UTC()
	log.WithField("steps", len(plan.Steps)).Info("Migration committed")
	return result, nil
}

// abort rolls back after step k failed, marks it failed and the rest skipped.
func (e *Executor) abort(ctx context.Context, jobID string, tx *sql.Tx, result *Result, k int, cause error, log logrus.FieldLogger) (*Result, error) {
	if err := tx.Rollback(); err != nil {
		log.WithError(err).Error("Rollback failed")
	}
	result.RolledBack = true

	failed := &result.Steps[k]
	failed.Status = StepFailed
	failed.Error = cause.Error()
	result.Errors = append(result.Errors, fmt.Sprintf("step %d (%s): %v", failed.Number, failed.Name, cause))
	log.WithError(cause).Error("Step failed, migration rolled back")

	for i := k; i < len(result.Steps); i++ {
		if i > k {
			result.Steps[i].Status = StepSkipped
		}
		if err := e.record(ctx, jobID, &result.Steps[i]); err != nil {
			log.WithError(err).Warn("Failed to record step outcome")
		}
	}

	result.FinishedAt = time.Now().UTC()
	return result, &StepError{Step: failed.Number, Name: failed.Name, Statement: failed.Statement, Err: cause}
}

func execStep(ctx context.Context, tx *sql.Tx, statement string) (int64, error) {
	if sqlvalidation.IsNoOp(statement) {
		return 0, nil
	}
	res, err := tx.ExecContext(ctx, statement)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil || rows < 0 {
		return 0, nil
	}
	return rows, nil
}

func (e *Executor) record(ctx context.Context, jobID string, step *StepResult) error {
	if e.steps == nil {
		return nil
	}
	err := e.steps.LogStep(ctx, &StepLog{
		JobID:        jobID,
		Step:         step.Number,
		Name:         step.Name,
		Statement:    step.Statement,
		Status:       step.Status,
		RowsAffected: step.RowsAffected,
		DurationMs:   step.DurationMs,
		Error:        step.Error,
		LoggedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to log step %d: %w", step.Number, err)
	}
	return nil
}
