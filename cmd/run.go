package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lockplane/downshift/internal/job"
	"github.com/lockplane/downshift/internal/pool"
	"github.com/lockplane/downshift/internal/progress"
)

var (
	runDryRun bool
	runJobID  string
	runWatch  bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cancelCmd)

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Run every phase but leave staging untouched")
	runCmd.Flags().StringVar(&runJobID, "job", "", "Resume a failed or cancelled job")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Show live progress while the job runs")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full migration job",
	Long: `Run a migration job through every phase:

  analyzing   compare source and target, measure records at risk
  exporting   export superset-only modules to artifacts
  migrating   plan and apply the removal to staging in one transaction
  validating  check the staging database

Job state is kept in the state database. A failed or cancelled job can be
resumed with --job; modules that were already exported are not exported again.
Interrupting the command cancels the job at the next phase boundary.`,
	Example: `  # Rehearse without touching staging
  downshift run --dry-run

  # Run with a live progress view
  downshift run --watch

  # Resume after fixing a connectivity problem
  downshift run --job 6f1c...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(pool.Source, pool.Target, pool.Staging, pool.State)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		st, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		runner := s.runner(st)

		jobID := runJobID
		if jobID == "" {
			j, err := runner.Create(ctx, runDryRun)
			if err != nil {
				return err
			}
			jobID = j.ID
		}
		logrus.WithField("job_id", jobID).Info("Running job")

		var runErr error
		if runWatch {
			runErr = watchRun(ctx, runner, st, jobID)
		} else {
			runErr = runner.Run(ctx, jobID)
		}

		snap, err := progress.Load(context.WithoutCancel(ctx), st, jobID)
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := writeJSON(cmd.OutOrStdout(), snap); err != nil {
				return err
			}
		} else if !runWatch {
			printSnapshot(cmd.OutOrStdout(), snap)
		}

		if runErr != nil {
			if errors.Is(runErr, job.ErrCancelled) {
				return fmt.Errorf("job %s cancelled, resume with --job %s", jobID, jobID)
			}
			return fmt.Errorf("job %s failed, resume with --job %s: %w", jobID, jobID, runErr)
		}
		return nil
	},
}

// watchRun runs the job in the background under the progress view. Quitting
// the view cancels the job at its next phase boundary.
func watchRun(ctx context.Context, runner *job.Runner, src progress.Source, jobID string) error {
	// keep log lines from tearing the terminal view
	level := logrus.GetLevel()
	logrus.SetLevel(logrus.ErrorLevel)
	defer logrus.SetLevel(level)

	done := runner.Start(ctx, jobID)
	snap, err := progress.Run(src, jobID, progress.DefaultInterval)
	if err != nil {
		logrus.WithError(err).Warn("Progress view stopped")
	}
	if snap != nil && snap.Job.State.Terminal() {
		return <-done
	}

	select {
	case err := <-done:
		return err
	default:
	}
	if err := runner.Cancel(context.WithoutCancel(ctx), jobID); err != nil {
		logrus.WithError(err).Warn("Failed to cancel job")
	}
	return <-done
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job at its next phase boundary",
	Long: `Mark a job cancelled. A job running in another process stops before its
next phase; a migration transaction in progress is never interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(pool.State)
		if err != nil {
			return err
		}
		defer s.Close()

		st, err := s.openStore(cmd.Context())
		if err != nil {
			return err
		}
		if err := s.runner(st).Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		_, _ = warnColor.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", args[0])
		return nil
	},
}
