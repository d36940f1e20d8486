package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lockplane/downshift/internal/analyze"
	"github.com/lockplane/downshift/internal/compare"
	"github.com/lockplane/downshift/internal/pool"
)

func init() {
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(analyzeCmd)
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Classify every populated source table against the target",
	Long: `Compare the source (superset) database with the target (subset) database.

Every populated source table is classified as missing_in_target,
identical_records, compatible_diff or incompatible_diff. Columns that carry
data the target cannot hold are listed with their non-null counts.`,
	Example: `  downshift compare
  downshift compare --env staging --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(pool.Source, pool.Target)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := runCompare(cmd.Context(), s)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		printComparison(cmd.OutOrStdout(), result)
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Measure how many source records the target can hold",
	Long: `Compare source and target, then analyze every table that exists in both.

For each table the analysis reports how many records carry data in columns
the target lacks (at risk) and how many can be carried over unchanged.`,
	Example: `  downshift analyze
  downshift analyze --json > analysis.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(pool.Source, pool.Target)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		comparison, err := runCompare(ctx, s)
		if err != nil {
			return err
		}
		source, sourceDriver, err := s.open(ctx, pool.Source)
		if err != nil {
			return err
		}
		target, targetDriver, err := s.open(ctx, pool.Target)
		if err != nil {
			return err
		}

		result := analyze.NewAnalyzer(sourceDriver, targetDriver, logrus.StandardLogger()).
			Analyze(ctx, source, target,
				comparison.ByCategory(compare.CompatibleDiff),
				comparison.ByCategory(compare.IncompatibleDiff))

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		printAnalysis(cmd.OutOrStdout(), result)
		return nil
	},
}

func runCompare(ctx context.Context, s *session) (*compare.Result, error) {
	source, sourceDriver, err := s.open(ctx, pool.Source)
	if err != nil {
		return nil, err
	}
	target, targetDriver, err := s.open(ctx, pool.Target)
	if err != nil {
		return nil, err
	}
	comparator := compare.NewComparator(sourceDriver, targetDriver,
		compare.WithCriticalColumns(s.catalog.IsCriticalColumn),
		compare.WithLogger(logrus.StandardLogger()))
	result, err := comparator.Compare(ctx, source, target)
	if err != nil {
		return nil, fmt.Errorf("failed to compare schemas: %w", err)
	}
	return result, nil
}
