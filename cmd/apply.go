package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lockplane/downshift/internal/executor"
	"github.com/lockplane/downshift/internal/pool"
	"github.com/lockplane/downshift/internal/store"
)

var applyDryRun bool

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Validate and log the plan without sending anything to staging")
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Plan and apply the removal to the staging database",
	Long: `Plan the removal of superset-only objects and apply it to the staging
database inside a single transaction.

Every step is logged in the state database. If any step fails the whole
transaction is rolled back and later steps are marked skipped. With --dry-run
the steps are validated and logged but nothing is sent to staging.

Apply never touches the source or target databases.`,
	Example: `  # Preview
  downshift apply --dry-run

  # Apply to staging
  downshift apply`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(pool.Staging, pool.State)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		st, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		plan, err := buildPlan(ctx, s)
		if err != nil {
			return err
		}

		j, err := st.CreateJob(ctx, applyDryRun)
		if err != nil {
			return err
		}
		log := logrus.WithFields(logrus.Fields{"job_id": j.ID, "dry_run": applyDryRun})
		if err := st.SetJobState(ctx, j.ID, store.JobMigrating, ""); err != nil {
			return err
		}
		if err := st.SaveAnalysis(ctx, j.ID, store.AnalysisPlan, plan); err != nil {
			return err
		}

		staging, _, err := s.open(ctx, pool.Staging)
		if err != nil {
			return err
		}
		result, execErr := executor.NewExecutor(st, log).WithAcquireTimeout(s.pools.ConnectTimeout()).Execute(ctx, j.ID, staging, plan, applyDryRun)
		if err := finishJob(ctx, st, j.ID, execErr); err != nil {
			log.WithError(err).Error("Failed to record job state")
		}

		if result != nil {
			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s\n", j.ID)
				printExecution(cmd.OutOrStdout(), result)
			}
		}
		if execErr != nil {
			var stepErr *executor.StepError
			if errors.As(execErr, &stepErr) {
				return fmt.Errorf("migration rolled back: %w", stepErr)
			}
			return execErr
		}
		return nil
	},
}

// finishJob records the outcome of a single-phase job.
func finishJob(ctx context.Context, st *store.Store, jobID string, cause error) error {
	persist := context.WithoutCancel(ctx)
	if cause != nil {
		return st.SetJobState(persist, jobID, store.JobFailed, cause.Error())
	}
	return st.SetJobState(persist, jobID, store.JobCompleted, "")
}
