package compare

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/downshift/database"
)

// DefaultSampleSize bounds the distinct values kept per lost column.
const DefaultSampleSize = 5

// Comparator compares a source database with a target database.
type Comparator struct {
	source     database.Driver
	target     database.Driver
	critical   func(column string) bool
	sampleSize int
	log        logrus.FieldLogger
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithCriticalColumns sets the business-criticality predicate used to flag
// lost columns.
func WithCriticalColumns(fn func(column string) bool) Option {
	return func(c *Comparator) { c.critical = fn }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Comparator) {
		if log != nil {
			c.log = log
		}
	}
}

// NewComparator creates a comparator for the given source and target dialects.
func NewComparator(source, target database.Driver, opts ...Option) *Comparator {
	c := &Comparator{
		source:     source,
		target:     target,
		critical:   func(string) bool { return false },
		sampleSize: DefaultSampleSize,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare classifies every populated table of source. Only failing to
// enumerate either database aborts the pass; a table that cannot be probed is
// recorded in Result.Errors and left out of the counts.
func (c *Comparator) Compare(ctx context.Context, source, target *sql.DB) (*Result, error) {
	sourceTables, err := c.source.GetTables(ctx, source)
	if err != nil {
		return nil, &database.ConnectivityError{Target: "source", Err: err}
	}
	targetTables, err := c.target.GetTables(ctx, target)
	if err != nil {
		return nil, &database.ConnectivityError{Target: "target", Err: err}
	}
	inTarget := make(map[string]bool, len(targetTables))
	for _, t := range targetTables {
		inTarget[t] = true
	}

	result := &Result{Tables: []TableClassification{}}
	for _, table := range sourceTables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log := c.log.WithField("table", table)
		tc, err := c.classify(ctx, source, target, table, inTarget[table])
		if err != nil {
			log.WithError(err).Warn("Skipping table that could not be compared")
			result.Errors = append(result.Errors, TableError{Table: table, Error: err.Error()})
			continue
		}
		if tc == nil {
			log.Debug("Skipping empty table")
			continue
		}
		log.WithField("category", tc.Category).Debug("Classified table")
		result.add(*tc)
	}

	result.ComparedAt = time.Now().UTC()
	c.log.WithFields(logrus.Fields{
		"tables":            result.TotalTables,
		"missing_in_target": result.MissingInTarget,
		"identical":         result.IdenticalRecords,
		"compatible_diff":   result.CompatibleDiff,
		"incompatible_diff": result.IncompatibleDiff,
		"errors":            len(result.Errors),
	}).Info("Schema comparison finished")
	return result, nil
}

// classify returns nil for tables without rows.
func (c *Comparator) classify(ctx context.Context, source, target *sql.DB, table string, existsInTarget bool) (*TableClassification, error) {
	if err := database.ValidateIdentifier(table); err != nil {
		return nil, &database.SchemaProbeError{Table: table, Op: "validate name", Err: err}
	}

	sourceCols, err := c.source.GetColumns(ctx, source, table)
	if err != nil {
		return nil, &database.SchemaProbeError{Table: table, Op: "read source columns", Err: err}
	}
	names := columnNames(sourceCols)

	stats, err := database.ScanTableStats(ctx, source, c.source, table, names)
	if err != nil {
		return nil, &database.SchemaProbeError{Table: table, Op: "scan source table", Err: err}
	}
	if stats.RowCount == 0 {
		return nil, nil
	}

	tc := &TableClassification{
		Table:             table,
		SourceRecordCount: stats.RowCount,
		MissingColumns:    []string{},
		NullOnlyColumns:   []string{},
	}
	if !existsInTarget {
		tc.Category = MissingInTarget
		tc.NullOnlyColumns = append(tc.NullOnlyColumns, stats.NullOnlyColumns(names)...)
		return tc, nil
	}

	targetCols, err := c.target.GetColumns(ctx, target, table)
	if err != nil {
		return nil, &database.SchemaProbeError{Table: table, Op: "read target columns", Err: err}
	}
	targetCount, err := database.CountRows(ctx, target, c.target, table)
	if err != nil {
		return nil, &database.SchemaProbeError{Table: table, Op: "count target rows", Err: err}
	}
	tc.TargetRecordCount = &targetCount

	inTarget := make(map[string]bool, len(targetCols))
	for _, col := range targetCols {
		inTarget[col.Name] = true
	}

	nonNull := stats.NonNullColumns(names)
	for _, col := range sourceCols {
		if inTarget[col.Name] {
			continue
		}
		if stats.NonNullCounts[col.Name] == 0 {
			tc.NullOnlyColumns = append(tc.NullOnlyColumns, col.Name)
			continue
		}
		tc.MissingColumns = append(tc.MissingColumns, col.Name)
	}

	if len(tc.MissingColumns) > 0 {
		tc.Category = IncompatibleDiff
		loss, err := c.columnDataLoss(ctx, source, table, sourceCols, stats, tc.MissingColumns)
		if err != nil {
			return nil, err
		}
		tc.ColumnDataLoss = loss
		return tc, nil
	}

	if stats.RowCount != targetCount {
		tc.Category = CompatibleDiff
		return tc, nil
	}

	same, err := c.recordsMatch(ctx, source, target, table, nonNull)
	if err != nil {
		return nil, &database.SchemaProbeError{Table: table, Op: "compare records", Err: err}
	}
	if same {
		tc.Category = IdenticalRecords
	} else {
		tc.Category = CompatibleDiff
	}
	return tc, nil
}

func (c *Comparator) columnDataLoss(ctx context.Context, source *sql.DB, table string, cols []database.Column, stats *database.TableStats, missing []string) ([]ColumnDataLoss, error) {
	types := make(map[string]string, len(cols))
	for _, col := range cols {
		types[col.Name] = col.Type
	}

	loss := make([]ColumnDataLoss, 0, len(missing))
	for _, name := range missing {
		samples, err := database.SampleDistinct(ctx, source, c.source, table, name, c.sampleSize)
		if err != nil {
			return nil, &database.SchemaProbeError{Table: table, Op: "sample column " + name, Err: err}
		}
		if samples == nil {
			samples = []string{}
		}
		loss = append(loss, ColumnDataLoss{
			Column:           name,
			DataType:         types[name],
			NonNullCount:     stats.NonNullCounts[name],
			BusinessCritical: c.critical(name),
			SampleValues:     samples,
		})
	}
	return loss, nil
}

// recordsMatch walks both tables in the same order and compares the given
// columns as text, row by row.
func (c *Comparator) recordsMatch(ctx context.Context, source, target *sql.DB, table string, columns []string) (bool, error) {
	if len(columns) == 0 {
		return true, nil
	}

	srcRows, err := source.QueryContext(ctx, projection(c.source, table, columns))
	if err != nil {
		return false, fmt.Errorf("failed to read source rows: %w", err)
	}
	defer func() { _ = srcRows.Close() }()

	tgtRows, err := target.QueryContext(ctx, projection(c.target, table, columns))
	if err != nil {
		return false, fmt.Errorf("failed to read target rows: %w", err)
	}
	defer func() { _ = tgtRows.Close() }()

	srcVals := make([]sql.NullString, len(columns))
	tgtVals := make([]sql.NullString, len(columns))
	for {
		srcNext := srcRows.Next()
		tgtNext := tgtRows.Next()
		if srcNext != tgtNext {
			return false, errors.Join(srcRows.Err(), tgtRows.Err())
		}
		if !srcNext {
			break
		}
		if err := srcRows.Scan(pointers(srcVals)...); err != nil {
			return false, fmt.Errorf("failed to scan source row: %w", err)
		}
		if err := tgtRows.Scan(pointers(tgtVals)...); err != nil {
			return false, fmt.Errorf("failed to scan target row: %w", err)
		}
		for i := range srcVals {
			if srcVals[i] != tgtVals[i] {
				return false, nil
			}
		}
	}
	if err := srcRows.Err(); err != nil {
		return false, err
	}
	return true, tgtRows.Err()
}

// projection selects columns as text ordered by every selected column.
func projection(gen database.SQLGenerator, table string, columns []string) string {
	exprs := make([]string, len(columns))
	order := make([]string, len(columns))
	for i, col := range columns {
		exprs[i] = gen.TextExpr(col)
		order[i] = fmt.Sprintf("%d", i+1)
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(exprs, ", "), gen.QuoteIdentifier(table), strings.Join(order, ", "))
}

func pointers(values []sql.NullString) []any {
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	return ptrs
}

func columnNames(cols []database.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
