package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockplane/downshift/internal/planner"
	"github.com/lockplane/downshift/internal/pool"
	"github.com/lockplane/downshift/internal/sqlvalidation"
)

func init() {
	rootCmd.AddCommand(planCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the steps that remove superset-only objects from staging",
	Long: `Detect superset-only modules, tables and models in the staging database and
print the ordered removal plan without executing it.

The same staging state always yields the same plan; its input hash identifies
the detected state.`,
	Example: `  downshift plan
  downshift plan --json > plan.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(pool.Staging)
		if err != nil {
			return err
		}
		defer s.Close()

		plan, err := buildPlan(cmd.Context(), s)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), plan)
		}
		printPlan(cmd.OutOrStdout(), plan)
		return nil
	},
}

// buildPlan detects the staging state and plans its removal. The plan is
// rejected when a statement fails the safety checks.
func buildPlan(ctx context.Context, s *session) (*planner.Plan, error) {
	staging, driver, err := s.open(ctx, pool.Staging)
	if err != nil {
		return nil, err
	}
	analysis, err := planner.Detect(ctx, staging, driver, s.catalog)
	if err != nil {
		return nil, err
	}
	plan, err := planner.NewPlanner(s.catalog, driver).Plan(analysis)
	if err != nil {
		return nil, err
	}
	if issues := sqlvalidation.ValidatePlanStatements(plan.Steps, plan.Dialect).Errors(); len(issues) > 0 {
		return nil, fmt.Errorf("plan step %d failed validation: %s", issues[0].Step, issues[0].Message)
	}
	return plan, nil
}
