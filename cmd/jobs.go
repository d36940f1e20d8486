package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lockplane/downshift/internal/pool"
	"github.com/lockplane/downshift/internal/progress"
)

var (
	jobsLimit     int
	watchInterval time.Duration
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)

	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs to list")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", progress.DefaultInterval, "Polling interval")
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent jobs",
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
		jobs, err := st.ListJobs(cmd.Context(), jobsLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), jobs)
		}

		w := cmd.OutOrStdout()
		if len(jobs) == 0 {
			fmt.Fprintln(w, "No jobs yet. Start one with: downshift run")
			return nil
		}
		for _, j := range jobs {
			fmt.Fprintf(w, "%s  ", j.ID)
			_, _ = statusColor(string(j.State)).Fprintf(w, "%-10s", j.State)
			fmt.Fprintf(w, "  %s", j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			if j.DryRun {
				_, _ = dimColor.Fprint(w, "  dry run")
			}
			fmt.Fprintln(w)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state of a job",
	Long: `Show the state of a job with its export checkpoints, migration step logs
and validation checks as recorded in the state database.`,
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
		snap, err := progress.Load(cmd.Context(), st, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), snap)
		}
		printSnapshot(cmd.OutOrStdout(), snap)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow the progress of a job",
	Long: `Follow a job running in another process. The view refreshes from the state
database until the job finishes; press q to stop watching.`,
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
		if _, err := st.GetJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		_, err = progress.Run(st, args[0], watchInterval)
		return err
	},
}
