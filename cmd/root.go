package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	envName    string
	configPath string
	logLevel   string
	logFormat  string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "downshift",
	Short: "Migrate a superset database down to a subset schema",
	Long: `Downshift moves an application database from a superset schema down to a
subset schema. It compares both schemas, measures which records are at risk,
exports superset-only modules to resumable artifacts, plans and applies the
removal inside a single transaction on a staging copy, and validates the result.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel, logFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "Environment from downshift.toml (defaults to DOWNSHIFT_ENV, default_environment or \"local\")")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to downshift.toml (defaults to searching upwards from the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

// Execute runs the command tree. SIGINT and SIGTERM cancel the command
// context; a running job stops at its next phase boundary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging configures the standard logrus logger. Logs go to stderr so
// that --json output on stdout stays parseable.
func setupLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)

	switch format {
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid --log-format %q: expected text or json", format)
	}
	return nil
}
