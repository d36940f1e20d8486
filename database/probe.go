package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TableStats is the result of a single aggregate scan over a table.
type TableStats struct {
	RowCount      int64
	NonNullCounts map[string]int64
}

// NonNullColumns returns the columns, in the given order, holding at least one
// non-null value.
func (s *TableStats) NonNullColumns(order []string) []string {
	var out []string
	for _, c := range order {
		if s.NonNullCounts[c] > 0 {
			out = append(out, c)
		}
	}
	return out
}

// NullOnlyColumns returns the columns, in the given order, that are null in
// every row.
func (s *TableStats) NullOnlyColumns(order []string) []string {
	var out []string
	for _, c := range order {
		if s.NonNullCounts[c] == 0 {
			out = append(out, c)
		}
	}
	return out
}

// ScanTableStats counts rows and non-null values of every column with one
// aggregate query.
func ScanTableStats(ctx context.Context, db *sql.DB, gen SQLGenerator, table string, columns []string) (*TableStats, error) {
	if err := validateAll(table, columns); err != nil {
		return nil, err
	}

	exprs := make([]string, 0, len(columns)+1)
	exprs = append(exprs, "COUNT(*)")
	for _, c := range columns {
		exprs = append(exprs, fmt.Sprintf("COUNT(%s)", gen.QuoteIdentifier(c)))
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), gen.QuoteIdentifier(table))

	counts := make([]int64, len(exprs))
	dest := make([]any, len(exprs))
	for i := range counts {
		dest[i] = &counts[i]
	}
	if err := db.QueryRowContext(ctx, query).Scan(dest...); err != nil {
		return nil, err
	}

	stats := &TableStats{
		RowCount:      counts[0],
		NonNullCounts: make(map[string]int64, len(columns)),
	}
	for i, c := range columns {
		stats.NonNullCounts[c] = counts[i+1]
	}
	return stats, nil
}

// CountRows returns the number of rows in table.
func CountRows(ctx context.Context, db *sql.DB, gen SQLGenerator, table string) (int64, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", gen.QuoteIdentifier(table))
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountAnyNotNull counts rows in which at least one of columns is non-null.
func CountAnyNotNull(ctx context.Context, db *sql.DB, gen SQLGenerator, table string, columns []string) (int64, error) {
	if len(columns) == 0 {
		return 0, nil
	}
	if err := validateAll(table, columns); err != nil {
		return 0, err
	}
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s",
		gen.QuoteIdentifier(table), anyNotNull(gen, columns))
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SampleDistinct returns up to limit distinct non-null values of column,
// rendered as text.
func SampleDistinct(ctx context.Context, db *sql.DB, gen SQLGenerator, table, column string, limit int) ([]string, error) {
	if err := validateAll(table, []string{column}); err != nil {
		return nil, err
	}
	expr := gen.TextExpr(column)
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY 1 LIMIT %d",
		expr, gen.QuoteIdentifier(table), gen.QuoteIdentifier(column), limit)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var values []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v.String)
	}
	return values, rows.Err()
}

// SampleAnyNotNull returns up to limit rows, projected onto selectColumns, in
// which at least one of conditionColumns is non-null.
func SampleAnyNotNull(ctx context.Context, db *sql.DB, gen SQLGenerator, table string, selectColumns, conditionColumns []string, limit int) ([]map[string]any, error) {
	if err := validateAll(table, append(append([]string{}, selectColumns...), conditionColumns...)); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT %d",
		QuoteList(gen, selectColumns), gen.QuoteIdentifier(table), anyNotNull(gen, conditionColumns), limit)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return ScanRecords(rows)
}

// ScanRecords reads every remaining row into a column-name keyed map.
// Byte slices are converted to strings so records serialize as readable JSON.
func ScanRecords(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(cols))
		for i, c := range cols {
			record[c] = NormalizeValue(values[i])
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// NormalizeValue converts driver values into JSON-friendly values.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return t
	}
}

// QuoteList quotes and joins column names for a select list.
func QuoteList(gen SQLGenerator, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = gen.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func anyNotNull(gen SQLGenerator, columns []string) string {
	conds := make([]string, len(columns))
	for i, c := range columns {
		conds[i] = gen.QuoteIdentifier(c) + " IS NOT NULL"
	}
	return strings.Join(conds, " OR ")
}

func validateAll(table string, columns []string) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	for _, c := range columns {
		if err := ValidateIdentifier(c); err != nil {
			return err
		}
	}
	return nil
}

// SelectText reads columns of every row of table, rendered as text, after
// checking the table and column names against the enumerated schema.
func SelectText(ctx context.Context, db *sql.DB, gen SQLGenerator, schema *Schema, table string, columns ...string) ([][]string, error) {
	if err := schema.CheckColumns(table, columns...); err != nil {
		return nil, err
	}
	exprs := make([]string, len(columns))
	for i, c := range columns {
		exprs[i] = gen.TextExpr(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), gen.QuoteIdentifier(table))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out [][]string
	for rows.Next() {
		vals := make([]sql.NullString, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]string, len(columns))
		for i, v := range vals {
			row[i] = v.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
