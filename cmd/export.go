package cmd

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lockplane/downshift/internal/catalog"
	"github.com/lockplane/downshift/internal/export"
	"github.com/lockplane/downshift/internal/pool"
)

var (
	exportJobID   string
	exportModules []string
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportInspectCmd)

	exportCmd.Flags().StringVar(&exportJobID, "job", "", "Resume the export of an existing job")
	exportCmd.Flags().StringSliceVar(&exportModules, "module", nil, "Export only these modules (repeatable)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export superset-only modules from the source to artifacts",
	Long: `Export every module of the catalog from the source database.

Each module is written to one JSON artifact under <output_dir>/<job id>,
gzip-compressed above compression_threshold_bytes. Progress is checkpointed
per module in the state database: re-running with --job skips modules that
already completed.`,
	Example: `  # Start a new export
  downshift export

  # Resume an interrupted export
  downshift export --job 6f1c...

  # Export a single module
  downshift export --module helpdesk`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(pool.Source, pool.State)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		st, err := s.openStore(ctx)
		if err != nil {
			return err
		}

		modules, err := selectModules(s.catalog, exportModules)
		if err != nil {
			return err
		}

		jobID := exportJobID
		if jobID == "" {
			j, err := st.CreateJob(ctx, false)
			if err != nil {
				return err
			}
			jobID = j.ID
		} else if _, err := st.GetJob(ctx, jobID); err != nil {
			return err
		}

		source, driver, err := s.open(ctx, pool.Source)
		if err != nil {
			return err
		}
		exporter := export.NewExporter(driver, st, export.Options{
			BatchSize:            s.cfg.Batch(),
			CompressionThreshold: s.cfg.CompressionThreshold(),
			Logger:               logrus.WithField("job_id", jobID),
		})
		dir := s.runner(st).ArtifactDir(jobID)
		exportErr := exporter.ExportModules(ctx, jobID, source, modules, dir)

		checkpoints, err := st.ListCheckpoints(ctx, jobID)
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := writeJSON(cmd.OutOrStdout(), checkpoints); err != nil {
				return err
			}
		} else {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Job %s, artifacts in %s\n", jobID, dir)
			for _, cp := range checkpoints {
				_, _ = statusColor(string(cp.Status)).Fprintf(w, "  %-11s", cp.Status)
				fmt.Fprintf(w, " %s %d/%d records", cp.Module, cp.RecordsExported, cp.TotalRecords)
				if cp.FilePath != "" {
					_, _ = dimColor.Fprintf(w, " %s (%d bytes)", cp.FilePath, cp.FileSize)
				}
				fmt.Fprintln(w)
			}
		}
		if exportErr != nil {
			return fmt.Errorf("export incomplete, resume with --job %s: %w", jobID, exportErr)
		}
		return nil
	},
}

var exportInspectCmd = &cobra.Command{
	Use:   "inspect <artifact>",
	Short: "Validate an export artifact and summarize its contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := export.ReadArtifact(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), doc)
		}

		w := cmd.OutOrStdout()
		_, _ = headColor.Fprintf(w, "Module %s", doc.Module)
		fmt.Fprintf(w, " exported %s, %d records\n", doc.ExportedAt.Format("2006-01-02 15:04:05 MST"), doc.TotalRecords)
		tables := make([]string, 0, len(doc.Tables))
		for t := range doc.Tables {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		for _, t := range tables {
			fmt.Fprintf(w, "  %s: %d records\n", t, len(doc.Tables[t]))
		}
		return nil
	},
}

// selectModules returns the catalog's export modules, or only the named ones
// in catalog order.
func selectModules(cat *catalog.Catalog, names []string) ([]catalog.ExportModule, error) {
	if len(names) == 0 {
		return cat.ExportModules, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := cat.ExportModule(n); !ok {
			return nil, fmt.Errorf("module %q is not an export module of the catalog", n)
		}
		wanted[n] = true
	}
	var out []catalog.ExportModule
	for _, m := range cat.ExportModules {
		if wanted[m.Name] {
			out = append(out, m)
		}
	}
	return out, nil
}
