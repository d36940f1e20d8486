package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lockplane/downshift/internal/config"
)

var initOpts config.InitOptions

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create downshift.toml and an environment file",
	Long: `Create downshift.toml in the current directory together with
.env.<environment> holding the connection strings, and add the credential
files, job state and exports to .gitignore.`,
	Example: `  downshift init \
    --source postgres://localhost/prod_copy \
    --target postgres://localhost/community \
    --staging postgres://localhost/staging`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		if initOpts.Environment == "" {
			initOpts.Environment = envName
		}
		result, err := config.Init(dir, initOpts)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		_, _ = okColor.Fprintf(w, "✓ Created %s\n", result.ConfigPath)
		_, _ = okColor.Fprintf(w, "✓ Created %s\n", result.EnvFile)
		if result.GitignoreUpdated {
			_, _ = okColor.Fprintln(w, "✓ Updated .gitignore")
		}
		fmt.Fprintln(w, "\nNext: downshift compare")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initOpts.Environment, "name", "", "Environment name (default \"local\")")
	initCmd.Flags().StringVar(&initOpts.SourceURL, "source", "", "Superset (source) database connection string")
	initCmd.Flags().StringVar(&initOpts.TargetURL, "target", "", "Subset (target) database connection string")
	initCmd.Flags().StringVar(&initOpts.StagingURL, "staging", "", "Staging database connection string")
	initCmd.Flags().StringVar(&initOpts.StateURL, "state", "", "Job state database (default .downshift/state.db)")
	initCmd.Flags().BoolVar(&initOpts.Force, "force", false, "Overwrite existing files")
}
