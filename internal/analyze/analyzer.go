// Package analyze measures record-level exposure for tables the comparator
// found to differ.
package analyze

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/internal/compare"
)

// DefaultSampleSize bounds the at-risk rows kept per table.
const DefaultSampleSize = 5

// RecordCompatibilityResult is the record-level view of one table. It is
// derived from a compare.TableClassification and never modifies it.
type RecordCompatibilityResult struct {
	Table                string           `json:"table"`
	Category             compare.Category `json:"category"`
	TotalRecords         int64            `json:"total_records"`
	CompatibleRecords    int64            `json:"compatible_records"`
	SourceOnlyRecords    int64            `json:"source_only_records"`
	PercentageCompatible float64          `json:"percentage_compatible"`
	DataCarryingColumns  []string         `json:"data_carrying_columns"`
	Reclassified         bool             `json:"reclassified"`
	SampleRecords        []map[string]any `json:"sample_records,omitempty"`
	Error                string           `json:"error,omitempty"`
}

// Summary aggregates every analyzed table.
type Summary struct {
	TablesAnalyzed       int     `json:"tables_analyzed"`
	TotalRecords         int64   `json:"total_records"`
	CompatibleRecords    int64   `json:"compatible_records"`
	SourceOnlyRecords    int64   `json:"source_only_records"`
	PercentageCompatible float64 `json:"percentage_compatible"`
}

// DetailedResult is the outcome of one analysis pass.
type DetailedResult struct {
	Summary    Summary                     `json:"summary"`
	Tables     []RecordCompatibilityResult `json:"tables"`
	AnalyzedAt time.Time                   `json:"analyzed_at"`
}

// Analyzer computes record compatibility.
type Analyzer struct {
	source     database.Driver
	target     database.Driver
	sampleSize int
	log        logrus.FieldLogger
}

// NewAnalyzer creates an analyzer. A nil logger uses the standard logger.
func NewAnalyzer(source, target database.Driver, log logrus.FieldLogger) *Analyzer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Analyzer{source: source, target: target, sampleSize: DefaultSampleSize, log: log}
}

// Analyze never fails as a whole: a table whose queries fail is reported as
// fully at risk with its error text.
func (a *Analyzer) Analyze(ctx context.Context, source, target *sql.DB, compatible, incompatible []compare.TableClassification) *DetailedResult {
	result := &DetailedResult{Tables: make([]RecordCompatibilityResult, 0, len(compatible)+len(incompatible))}

	for _, tc := range incompatible {
		r, err := a.analyzeIncompatible(ctx, source, tc)
		result.Tables = append(result.Tables, a.settle(tc, r, err))
	}
	for _, tc := range compatible {
		r, err := a.analyzeCompatible(ctx, source, target, tc)
		result.Tables = append(result.Tables, a.settle(tc, r, err))
	}

	for _, r := range result.Tables {
		result.Summary.TablesAnalyzed++
		result.Summary.TotalRecords += r.TotalRecords
		result.Summary.CompatibleRecords += r.CompatibleRecords
		result.Summary.SourceOnlyRecords += r.SourceOnlyRecords
	}
	result.Summary.PercentageCompatible = percentage(result.Summary.CompatibleRecords, result.Summary.TotalRecords)
	result.AnalyzedAt = time.Now().UTC()

	a.log.WithFields(logrus.Fields{
		"tables":       result.Summary.TablesAnalyzed,
		"records":      result.Summary.TotalRecords,
		"source_only":  result.Summary.SourceOnlyRecords,
		"compatible_%": result.Summary.PercentageCompatible,
	}).Info("Record compatibility analysis finished")
	return result
}

// settle degrades a failed table to fully at risk.
func (a *Analyzer) settle(tc compare.TableClassification, r RecordCompatibilityResult, err error) RecordCompatibilityResult {
	if err == nil {
		r.PercentageCompatible = percentage(r.CompatibleRecords, r.TotalRecords)
		return r
	}
	a.log.WithField("table", tc.Table).WithError(err).Warn("Record analysis failed, treating table as fully at risk")
	return RecordCompatibilityResult{
		Table:                tc.Table,
		Category:             tc.Category,
		TotalRecords:         tc.SourceRecordCount,
		CompatibleRecords:    0,
		SourceOnlyRecords:    tc.SourceRecordCount,
		PercentageCompatible: 0,
		DataCarryingColumns:  []string{},
		Error:                err.Error(),
	}
}

func (a *Analyzer) analyzeIncompatible(ctx context.Context, source *sql.DB, tc compare.TableClassification) (RecordCompatibilityResult, error) {
	r := RecordCompatibilityResult{Table: tc.Table, Category: tc.Category, DataCarryingColumns: []string{}}

	stats, err := database.ScanTableStats(ctx, source, a.source, tc.Table, tc.MissingColumns)
	if err != nil {
		return r, &database.SchemaProbeError{Table: tc.Table, Op: "scan missing columns", Err: err}
	}
	r.TotalRecords = stats.RowCount

	carrying := stats.NonNullColumns(tc.MissingColumns)
	if len(carrying) == 0 {
		r.CompatibleRecords = stats.RowCount
		r.Reclassified = true
		return r, nil
	}
	r.DataCarryingColumns = carrying

	atRisk, err := database.CountAnyNotNull(ctx, source, a.source, tc.Table, carrying)
	if err != nil {
		return r, &database.SchemaProbeError{Table: tc.Table, Op: "count at-risk records", Err: err}
	}
	r.SourceOnlyRecords = atRisk
	r.CompatibleRecords = r.TotalRecords - atRisk

	cols, err := a.source.GetColumns(ctx, source, tc.Table)
	if err != nil {
		return r, &database.SchemaProbeError{Table: tc.Table, Op: "read columns", Err: err}
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	samples, err := database.SampleAnyNotNull(ctx, source, a.source, tc.Table, names, carrying, a.sampleSize)
	if err != nil {
		return r, &database.SchemaProbeError{Table: tc.Table, Op: "sample at-risk records", Err: err}
	}
	r.SampleRecords = samples
	return r, nil
}

// analyzeCompatible uses min(source, target) as the compatible floor. The
// remainder overestimates risk when content diverged beyond appended rows.
func (a *Analyzer) analyzeCompatible(ctx context.Context, source, target *sql.DB, tc compare.TableClassification) (RecordCompatibilityResult, error) {
	r := RecordCompatibilityResult{Table: tc.Table, Category: tc.Category, DataCarryingColumns: []string{}}

	sourceCount, err := database.CountRows(ctx, source, a.source, tc.Table)
	if err != nil {
		return r, &database.SchemaProbeError{Table: tc.Table, Op: "count source rows", Err: err}
	}
	targetCount, err := database.CountRows(ctx, target, a.target, tc.Table)
	if err != nil {
		return r, &database.SchemaProbeError{Table: tc.Table, Op: "count target rows", Err: err}
	}

	r.TotalRecords = sourceCount
	r.CompatibleRecords = min(sourceCount, targetCount)
	r.SourceOnlyRecords = sourceCount - r.CompatibleRecords
	return r, nil
}

func percentage(part, total int64) float64 {
	if total == 0 {
		return 100
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}
