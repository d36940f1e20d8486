package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lockplane/downshift/internal/pool"
	"github.com/lockplane/downshift/internal/validation"
)

var validateJobID string

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateJobID, "job", "", "Record the checks against this job")
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the staging database after migration",
	Long: `Run the post-migration checks against the staging database:

  - superset modules are no longer active
  - superset tables are gone
  - no foreign key points at a missing table
  - superset models are unregistered
  - their UI assets are removed (warning only)
  - no active scheduled job or automation targets a removed model
  - the catalog still holds user tables

Exits with an error when any check fails. With --job the checks are recorded
in the state database.`,
	Example: `  downshift validate
  downshift validate --job 6f1c... --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		roles := []string{pool.Staging}
		if validateJobID != "" {
			roles = append(roles, pool.State)
		}
		s, err := newSession(roles...)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		var recorder validation.CheckRecorder
		if validateJobID != "" {
			st, err := s.openStore(ctx)
			if err != nil {
				return err
			}
			if _, err := st.GetJob(ctx, validateJobID); err != nil {
				return err
			}
			recorder = st
		}

		staging, driver, err := s.open(ctx, pool.Staging)
		if err != nil {
			return err
		}
		result := validation.NewValidator(s.catalog, driver, recorder, logrus.StandardLogger()).
			Validate(ctx, validateJobID, staging)

		if jsonOutput {
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
		} else {
			printValidation(cmd.OutOrStdout(), result)
		}
		if result.Status == validation.StatusFail {
			return fmt.Errorf("validation failed")
		}
		return nil
	},
}
