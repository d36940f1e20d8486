package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockplane/downshift/internal/pool"
)

func init() {
	rootCmd.AddCommand(introspectCmd)
}

var introspectCmd = &cobra.Command{
	Use:       "introspect [source|target|staging]",
	Short:     "Print the schema of one of the configured databases",
	Long:      `Introspect tables, columns and foreign keys of a configured database. Defaults to staging.`,
	Example:   "  downshift introspect target --json > target-schema.json",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{pool.Source, pool.Target, pool.Staging},
	RunE: func(cmd *cobra.Command, args []string) error {
		role := pool.Staging
		if len(args) == 1 {
			role = args[0]
		}
		s, err := newSession(role)
		if err != nil {
			return err
		}
		defer s.Close()

		db, driver, err := s.open(cmd.Context(), role)
		if err != nil {
			return err
		}
		schema, err := driver.IntrospectSchema(cmd.Context(), db)
		if err != nil {
			return fmt.Errorf("failed to introspect %s: %w", role, err)
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), schema)
		}

		w := cmd.OutOrStdout()
		_, _ = headColor.Fprintf(w, "%s: %d tables (%s)\n", role, len(schema.Tables), driver.Dialect())
		for _, t := range schema.Tables {
			fmt.Fprintf(w, "  %s (%d columns)\n", t.Name, len(t.Columns))
			for _, fk := range t.ForeignKeys {
				_, _ = dimColor.Fprintf(w, "      %s -> %s\n", fk.Name, fk.ReferencedTable)
			}
		}
		return nil
	},
}
