// Package job drives a migration job through its lifecycle: compare and
// analyze, export, plan and execute, validate.
package job

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/downshift/internal/analyze"
	"github.com/lockplane/downshift/internal/catalog"
	"github.com/lockplane/downshift/internal/compare"
	"github.com/lockplane/downshift/internal/executor"
	"github.com/lockplane/downshift/internal/export"
	"github.com/lockplane/downshift/internal/planner"
	"github.com/lockplane/downshift/internal/pool"
	"github.com/lockplane/downshift/internal/store"
	"github.com/lockplane/downshift/internal/validation"
)

// ErrCancelled is returned by Run when the job was cancelled between phases.
var ErrCancelled = errors.New("job cancelled")

// ErrCompleted is returned when running a job that already completed.
var ErrCompleted = errors.New("job already completed")

// Connections are the connection strings of the databases a job touches.
type Connections struct {
	Source  string
	Target  string
	Staging string
}

// Options configures a Runner.
type Options struct {
	// OutputDir is the artifact root; each job writes under OutputDir/<job id>.
	OutputDir            string
	BatchSize            int
	CompressionThreshold int64
	Logger               logrus.FieldLogger
}

// Runner runs jobs. It owns no connections: pools come from the registry and
// state goes to the store.
type Runner struct {
	pools   *pool.Registry
	store   *store.Store
	catalog *catalog.Catalog
	conns   Connections
	opts    Options
	log     logrus.FieldLogger

	// afterPhase is called once a phase has finished.
	afterPhase func(state store.JobState)
}

// NewRunner creates a runner.
func NewRunner(pools *pool.Registry, st *store.Store, cat *catalog.Catalog, conns Connections, opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{pools: pools, store: st, catalog: cat, conns: conns, opts: opts, log: log}
}

// Create inserts a pending job.
func (r *Runner) Create(ctx context.Context, dryRun bool) (*store.Job, error) {
	return r.store.CreateJob(ctx, dryRun)
}

// Start runs the job in the background. The channel receives Run's result
// and is then closed.
func (r *Runner) Start(ctx context.Context, jobID string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- r.Run(ctx, jobID)
	}()
	return done
}

// Cancel marks a job cancelled. A running job stops at the next phase
// boundary; a transaction in progress is never interrupted.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("cannot cancel job %s: already %s", jobID, job.State)
	}
	return r.store.SetJobState(ctx, jobID, store.JobCancelled, "cancelled by user")
}

// Run drives the job to completed. A failed or cancelled job can be run
// again: export modules that completed before are not repeated.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State == store.JobCompleted {
		return fmt.Errorf("job %s: %w", jobID, ErrCompleted)
	}
	log := r.log.WithFields(logrus.Fields{"job_id": jobID, "dry_run": job.DryRun})
	log.WithField("from_state", job.State).Info("Starting job")

	if err := r.store.SetJobState(ctx, jobID, store.JobAnalyzing, ""); err != nil {
		return err
	}

	phases := []struct {
		state store.JobState
		run   func(context.Context, *store.Job, logrus.FieldLogger) error
	}{
		{store.JobAnalyzing, r.analyze},
		{store.JobExporting, r.export},
		{store.JobMigrating, r.migrate},
		{store.JobValidating, r.validate},
	}

	for i, phase := range phases {
		if i > 0 {
			if err := r.enter(ctx, jobID, phase.state); err != nil {
				return r.stop(ctx, jobID, err, log)
			}
		}
		phaseLog := log.WithField("phase", phase.state)
		phaseLog.Info("Phase started")
		if err := phase.run(ctx, job, phaseLog); err != nil {
			return r.stop(ctx, jobID, err, log)
		}
		if r.afterPhase != nil {
			r.afterPhase(phase.state)
		}
	}

	if err := r.enter(ctx, jobID, store.JobCompleted); err != nil {
		return r.stop(ctx, jobID, err, log)
	}
	log.Info("Job completed")
	return nil
}

// enter moves to the next state unless the job was cancelled meanwhile.
func (r *Runner) enter(ctx context.Context, jobID string, next store.JobState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State == store.JobCancelled {
		return ErrCancelled
	}
	return r.store.SetJobState(ctx, jobID, next, "")
}

// stop records why the job stopped. Cancellation leaves the job cancelled;
// anything else marks it failed.
func (r *Runner) stop(ctx context.Context, jobID string, cause error, log logrus.FieldLogger) error {
	persist := context.WithoutCancel(ctx)
	state := store.JobFailed
	if errors.Is(cause, ErrCancelled) || errors.Is(cause, context.Canceled) {
		state = store.JobCancelled
	}
	if err := r.store.SetJobState(persist, jobID, state, cause.Error()); err != nil {
		log.WithError(err).Error("Failed to record job state")
	}
	if state == store.JobCancelled {
		log.Warn("Job cancelled")
		if !errors.Is(cause, ErrCancelled) {
			return fmt.Errorf("%w: %v", ErrCancelled, cause)
		}
		return cause
	}
	log.WithError(cause).Error("Job failed")
	return cause
}

func (r *Runner) analyze(ctx context.Context, job *store.Job, log logrus.FieldLogger) error {
	source, sourceDriver, err := r.pools.Get(ctx, pool.Conn{ID: pool.Source, URL: r.conns.Source, ReadOnly: true})
	if err != nil {
		return err
	}
	target, targetDriver, err := r.pools.Get(ctx, pool.Conn{ID: pool.Target, URL: r.conns.Target, ReadOnly: true})
	if err != nil {
		return err
	}

	comparator := compare.NewComparator(sourceDriver, targetDriver,
		compare.WithCriticalColumns(r.catalog.IsCriticalColumn),
		compare.WithLogger(log))
	comparison, err := comparator.Compare(ctx, source, target)
	if err != nil {
		return err
	}
	if err := r.store.SaveAnalysis(ctx, job.ID, store.AnalysisComparison, comparison); err != nil {
		return err
	}

	records := analyze.NewAnalyzer(sourceDriver, targetDriver, log).
		Analyze(ctx, source, target,
			comparison.ByCategory(compare.CompatibleDiff),
			comparison.ByCategory(compare.IncompatibleDiff))
	if err := r.store.SaveAnalysis(ctx, job.ID, store.AnalysisRecords, records); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"tables":             comparison.TotalTables,
		"incompatible":       comparison.IncompatibleDiff,
		"records_at_risk":    records.Summary.SourceOnlyRecords,
		"percent_compatible": records.Summary.PercentageCompatible,
	}).Info("Analysis stored")
	return nil
}

func (r *Runner) export(ctx context.Context, job *store.Job, log logrus.FieldLogger) error {
	source, driver, err := r.pools.Get(ctx, pool.Conn{ID: pool.Source, URL: r.conns.Source, ReadOnly: true})
	if err != nil {
		return err
	}
	exporter := export.NewExporter(driver, r.store, export.Options{
		BatchSize:            r.opts.BatchSize,
		CompressionThreshold: r.opts.CompressionThreshold,
		Logger:               log,
	})
	return exporter.ExportModules(ctx, job.ID, source, r.catalog.ExportModules, r.ArtifactDir(job.ID))
}

func (r *Runner) migrate(ctx context.Context, job *store.Job, log logrus.FieldLogger) error {
	staging, driver, err := r.pools.Get(ctx, pool.Conn{ID: pool.Staging, URL: r.conns.Staging})
	if err != nil {
		return err
	}

	analysis, err := planner.Detect(ctx, staging, driver, r.catalog)
	if err != nil {
		return err
	}
	plan, err := planner.NewPlanner(r.catalog, driver).Plan(analysis)
	if err != nil {
		return err
	}
	if err := r.store.SaveAnalysis(ctx, job.ID, store.AnalysisPlan, plan); err != nil {
		return err
	}
	if err := r.store.ClearStepLogs(ctx, job.ID); err != nil {
		return err
	}

	result, err := executor.NewExecutor(r.store, log).WithAcquireTimeout(r.pools.ConnectTimeout()).Execute(ctx, job.ID, staging, plan, job.DryRun)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"steps":      len(result.Steps),
		"input_hash": plan.InputHash,
	}).Info("Plan executed")
	return nil
}

func (r *Runner) validate(ctx context.Context, job *store.Job, log logrus.FieldLogger) error {
	staging, driver, err := r.pools.Get(ctx, pool.Conn{ID: pool.Staging, URL: r.conns.Staging})
	if err != nil {
		return err
	}
	result := validation.NewValidator(r.catalog, driver, r.store, log).Validate(ctx, job.ID, staging)
	log.WithField("status", result.Status).Info("Validation finished")

	// A dry run leaves staging untouched, so failing checks are expected.
	if result.Status == validation.StatusFail && !job.DryRun {
		var failed []string
		for _, c := range result.Checks {
			if c.Status == validation.StatusFail {
				failed = append(failed, c.Name)
			}
		}
		return fmt.Errorf("validation failed: %v", failed)
	}
	return nil
}

// ArtifactDir is where the export artifacts of a job are written.
func (r *Runner) ArtifactDir(jobID string) string {
	return filepath.Join(r.opts.OutputDir, jobID)
}
