package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/internal/analyze"
	"github.com/lockplane/downshift/internal/compare"
	"github.com/lockplane/downshift/internal/executor"
	"github.com/lockplane/downshift/internal/locks"
	"github.com/lockplane/downshift/internal/planner"
	"github.com/lockplane/downshift/internal/progress"
	"github.com/lockplane/downshift/internal/validation"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
	headColor = color.New(color.Bold)
)

// statusColor picks a colour for any status string the engine produces.
func statusColor(status string) *color.Color {
	switch status {
	case "completed", "pass", string(compare.IdenticalRecords):
		return okColor
	case "warning", "in_progress", "running", "pending", "analyzing", "exporting",
		"migrating", "validating", string(compare.CompatibleDiff), string(compare.MissingInTarget):
		return warnColor
	case "failed", "fail", "cancelled", string(compare.IncompatibleDiff):
		return failColor
	default:
		return dimColor
	}
}

func printComparison(w io.Writer, r *compare.Result) {
	_, _ = headColor.Fprintf(w, "Compared %d tables\n", r.TotalTables)
	fmt.Fprintf(w, "  identical: %d  compatible: %d  incompatible: %d  missing in target: %d\n\n",
		r.IdenticalRecords, r.CompatibleDiff, r.IncompatibleDiff, r.MissingInTarget)

	for _, t := range r.Tables {
		target := "-"
		if t.TargetRecordCount != nil {
			target = fmt.Sprintf("%d", *t.TargetRecordCount)
		}
		_, _ = statusColor(string(t.Category)).Fprintf(w, "  %-20s", t.Category)
		fmt.Fprintf(w, " %s (source %d, target %s)\n", t.Table, t.SourceRecordCount, target)
		for _, loss := range t.ColumnDataLoss {
			line := fmt.Sprintf("      %s %s: %d values", loss.Column, loss.DataType, loss.NonNullCount)
			if loss.BusinessCritical {
				_, _ = failColor.Fprintln(w, line+" (business critical)")
			} else {
				fmt.Fprintln(w, line)
			}
		}
	}
	for _, e := range r.Errors {
		_, _ = failColor.Fprintf(w, "  error %s: %s\n", e.Table, e.Error)
	}
}

func printAnalysis(w io.Writer, r *analyze.DetailedResult) {
	s := r.Summary
	_, _ = headColor.Fprintf(w, "Analyzed %d tables\n", s.TablesAnalyzed)
	fmt.Fprintf(w, "  records: %d  compatible: %d  at risk: %d  (%.2f%% compatible)\n\n",
		s.TotalRecords, s.CompatibleRecords, s.SourceOnlyRecords, s.PercentageCompatible)

	for _, t := range r.Tables {
		c := okColor
		if t.SourceOnlyRecords > 0 {
			c = failColor
		}
		_, _ = c.Fprintf(w, "  %6.2f%%", t.PercentageCompatible)
		fmt.Fprintf(w, " %s: %d of %d compatible", t.Table, t.CompatibleRecords, t.TotalRecords)
		if t.Reclassified {
			_, _ = dimColor.Fprint(w, " (reclassified)")
		}
		fmt.Fprintln(w)
		if len(t.DataCarryingColumns) > 0 {
			fmt.Fprintf(w, "      data-carrying columns: %s\n", strings.Join(t.DataCarryingColumns, ", "))
		}
		if t.Error != "" {
			_, _ = failColor.Fprintf(w, "      error: %s\n", t.Error)
		}
	}
}

func printPlan(w io.Writer, p *planner.Plan) {
	if len(p.Steps) == 0 {
		_, _ = okColor.Fprintln(w, "✓ Nothing to remove")
		return
	}
	_, _ = headColor.Fprintf(w, "Plan with %d steps (%s, input %s)\n", len(p.Steps), p.Dialect, shortHash(p.InputHash))
	var impacts []locks.LockImpact
	if p.Dialect == database.DialectPostgres {
		impacts = locks.AnalyzePlan(p)
	}
	for i, s := range p.Steps {
		fmt.Fprintf(w, "  %2d. %s", s.Number, s.Description)
		if impacts != nil {
			c := dimColor
			if impacts[i].Impact == locks.ImpactHigh {
				c = warnColor
			}
			_, _ = c.Fprintf(w, " [%s]", impacts[i].LockMode)
		}
		fmt.Fprintln(w)
		_, _ = dimColor.Fprintf(w, "      %s\n", s.Statement)
	}
	if impacts != nil {
		fmt.Fprintf(w, "Locks are held until commit; strongest is %s\n", locks.Strongest(impacts))
	}
}

func printExecution(w io.Writer, r *executor.Result) {
	for _, s := range r.Steps {
		_, _ = statusColor(string(s.Status)).Fprintf(w, "  %-9s", s.Status)
		fmt.Fprintf(w, " %2d. %s", s.Number, s.Name)
		if s.Status == executor.StepCompleted {
			_, _ = dimColor.Fprintf(w, " (%d rows, %dms)", s.RowsAffected, s.DurationMs)
		}
		fmt.Fprintln(w)
		if s.Error != "" {
			_, _ = failColor.Fprintf(w, "      %s\n", s.Error)
		}
	}
	switch {
	case r.DryRun:
		_, _ = warnColor.Fprintln(w, "Dry run: nothing was sent to the database")
	case r.Success:
		_, _ = okColor.Fprintln(w, "✓ Migration applied")
	case r.RolledBack:
		_, _ = failColor.Fprintln(w, "✗ Migration rolled back")
	}
}

func printValidation(w io.Writer, r *validation.Result) {
	for _, c := range r.Checks {
		_, _ = statusColor(string(c.Status)).Fprintf(w, "  %-7s", c.Status)
		fmt.Fprintf(w, " %s: %s\n", c.Name, c.Details)
		for _, o := range c.OffendingRecords {
			_, _ = dimColor.Fprintf(w, "      %s\n", o)
		}
		if more := c.OffendingCount - len(c.OffendingRecords); more > 0 {
			_, _ = dimColor.Fprintf(w, "      ... and %d more\n", more)
		}
	}
	_, _ = statusColor(string(r.Status)).Fprintf(w, "Validation %s\n", r.Status)
}

func printSnapshot(w io.Writer, snap *progress.Snapshot) {
	j := snap.Job
	fmt.Fprintf(w, "Job %s ", j.ID)
	_, _ = statusColor(string(j.State)).Fprint(w, j.State)
	if j.DryRun {
		_, _ = dimColor.Fprint(w, " (dry run)")
	}
	fmt.Fprintln(w)
	if j.Error != "" {
		_, _ = failColor.Fprintf(w, "  %s\n", j.Error)
	}

	if len(snap.Checkpoints) > 0 {
		_, _ = headColor.Fprintln(w, "Export")
		for _, cp := range snap.Checkpoints {
			_, _ = statusColor(string(cp.Status)).Fprintf(w, "  %-11s", cp.Status)
			fmt.Fprintf(w, " %s %d/%d", cp.Module, cp.RecordsExported, cp.TotalRecords)
			if cp.FilePath != "" {
				_, _ = dimColor.Fprintf(w, " %s", cp.FilePath)
			}
			fmt.Fprintln(w)
		}
	}
	if len(snap.Steps) > 0 {
		_, _ = headColor.Fprintln(w, "Migration")
		for _, s := range snap.Steps {
			_, _ = statusColor(string(s.Status)).Fprintf(w, "  %-9s", s.Status)
			fmt.Fprintf(w, " %2d. %s\n", s.Step, s.Name)
		}
	}
	if len(snap.Checks) > 0 {
		_, _ = headColor.Fprintln(w, "Validation")
		for _, c := range snap.Checks {
			_, _ = statusColor(string(c.Status)).Fprintf(w, "  %-7s", c.Status)
			fmt.Fprintf(w, " %s\n", c.Name)
		}
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
