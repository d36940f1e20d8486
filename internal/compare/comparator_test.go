package compare

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/database/sqlite"
	"github.com/lockplane/downshift/internal/testutil"
)

func newComparator(opts ...Option) *Comparator {
	return NewComparator(sqlite.NewDriver(), sqlite.NewDriver(), opts...)
}

// seedScenario builds the source and target used by most tests:
//
//	orders    500 rows, promo_code set on 150 rows, promo_code absent in target
//	tags      50 rows, absent in target, color is always null
//	products  200 identical rows, source-only notes column is always null
//	customers 10 rows in source, 8 in target
//	prices    same row count, one value differs
//	drafts    empty
func seedScenario(t *testing.T) (*sql.DB, *sql.DB) {
	source := testutil.OpenSQLite(t, "source")
	target := testutil.OpenSQLite(t, "target")

	testutil.Exec(t, source,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL, promo_code TEXT)`,
		`CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT, color TEXT)`,
		`CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT, price REAL, notes TEXT)`,
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, email TEXT)`,
		`CREATE TABLE prices (id INTEGER PRIMARY KEY, value INTEGER)`,
		`CREATE TABLE drafts (id INTEGER PRIMARY KEY, body TEXT)`,
	)
	testutil.InsertSeries(t, source, "INSERT INTO orders (id, amount, promo_code)", 500,
		"n, n * 1.5, CASE WHEN n <= 150 THEN 'PROMO' || n END")
	testutil.InsertSeries(t, source, "INSERT INTO tags (id, name)", 50, "n, 'tag' || n")
	testutil.InsertSeries(t, source, "INSERT INTO products (id, name, price)", 200, "n, 'product' || n, n * 2")
	testutil.InsertSeries(t, source, "INSERT INTO customers (id, email)", 10, "n, 'c' || n || '@example.com'")
	testutil.InsertSeries(t, source, "INSERT INTO prices (id, value)", 3, "n, n * 10")

	testutil.Exec(t, target,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL)`,
		`CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT, price REAL)`,
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, email TEXT)`,
		`CREATE TABLE prices (id INTEGER PRIMARY KEY, value INTEGER)`,
		`CREATE TABLE drafts (id INTEGER PRIMARY KEY, body TEXT)`,
	)
	testutil.InsertSeries(t, target, "INSERT INTO orders (id, amount)", 500, "n, n * 1.5")
	testutil.InsertSeries(t, target, "INSERT INTO products (id, name, price)", 200, "n, 'product' || n, n * 2")
	testutil.InsertSeries(t, target, "INSERT INTO customers (id, email)", 8, "n, 'c' || n || '@example.com'")
	testutil.Exec(t, target, `INSERT INTO prices (id, value) VALUES (1, 10), (2, 20), (3, 31)`)

	return source, target
}

func TestCompare_Scenarios(t *testing.T) {
	source, target := seedScenario(t)

	result, err := newComparator().Compare(context.Background(), source, target)
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	orders, ok := result.Table("orders")
	require.True(t, ok)
	assert.Equal(t, IncompatibleDiff, orders.Category)
	assert.Equal(t, []string{"promo_code"}, orders.MissingColumns)
	assert.Equal(t, int64(500), orders.SourceRecordCount)
	require.Len(t, orders.ColumnDataLoss, 1)
	assert.Equal(t, int64(150), orders.ColumnDataLoss[0].NonNullCount)
	assert.Equal(t, "TEXT", orders.ColumnDataLoss[0].DataType)
	assert.Len(t, orders.ColumnDataLoss[0].SampleValues, DefaultSampleSize)

	tags, ok := result.Table("tags")
	require.True(t, ok)
	assert.Equal(t, MissingInTarget, tags.Category)
	assert.Equal(t, int64(50), tags.SourceRecordCount)
	assert.Nil(t, tags.TargetRecordCount)
	assert.Equal(t, []string{"color"}, tags.NullOnlyColumns)
	assert.Empty(t, tags.MissingColumns)

	products, ok := result.Table("products")
	require.True(t, ok)
	assert.Equal(t, IdenticalRecords, products.Category)
	assert.Equal(t, []string{"notes"}, products.NullOnlyColumns)
	require.NotNil(t, products.TargetRecordCount)
	assert.Equal(t, int64(200), *products.TargetRecordCount)

	customers, _ := result.Table("customers")
	assert.Equal(t, CompatibleDiff, customers.Category)

	prices, _ := result.Table("prices")
	assert.Equal(t, CompatibleDiff, prices.Category, "equal counts with divergent content are not identical")

	_, ok = result.Table("drafts")
	assert.False(t, ok, "empty tables are discarded")

	assert.Equal(t, 5, result.TotalTables)
	assert.Equal(t, 1, result.MissingInTarget)
	assert.Equal(t, 1, result.IdenticalRecords)
	assert.Equal(t, 2, result.CompatibleDiff)
	assert.Equal(t, 1, result.IncompatibleDiff)
	assert.False(t, result.ComparedAt.IsZero())
}

func TestCompare_CategoriesAreExhaustive(t *testing.T) {
	source, target := seedScenario(t)

	result, err := newComparator().Compare(context.Background(), source, target)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, tc := range result.Tables {
		assert.False(t, seen[tc.Table], "table %s classified twice", tc.Table)
		seen[tc.Table] = true

		switch tc.Category {
		case IncompatibleDiff:
			assert.NotEmpty(t, tc.MissingColumns, tc.Table)
		case MissingInTarget, IdenticalRecords, CompatibleDiff:
			assert.Empty(t, tc.MissingColumns, tc.Table)
		default:
			t.Errorf("table %s has unknown category %q", tc.Table, tc.Category)
		}
	}
	assert.Equal(t, result.TotalTables,
		result.MissingInTarget+result.IdenticalRecords+result.CompatibleDiff+result.IncompatibleDiff)
	assert.Len(t, result.ByCategory(CompatibleDiff), result.CompatibleDiff)
}

func TestCompare_RoundTripYieldsIdentical(t *testing.T) {
	source := testutil.OpenSQLite(t, "source")
	target := testutil.OpenSQLite(t, "target")

	testutil.Exec(t, source,
		`CREATE TABLE items (id INTEGER PRIMARY KEY, sku TEXT, qty INTEGER, legacy TEXT)`,
		`INSERT INTO items (id, sku, qty) VALUES (3, 'c', 1), (1, 'a', NULL), (2, 'b', 7)`,
	)
	testutil.Exec(t, target, `CREATE TABLE items (id INTEGER PRIMARY KEY, sku TEXT, qty INTEGER)`)

	// Reinsert the source's non-null projection into the empty target.
	rows, err := source.Query(`SELECT id, sku, qty FROM items`)
	require.NoError(t, err)
	records, err := database.ScanRecords(rows)
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	for _, r := range records {
		_, err := target.Exec(`INSERT INTO items (id, sku, qty) VALUES (?, ?, ?)`, r["id"], r["sku"], r["qty"])
		require.NoError(t, err)
	}

	result, err := newComparator().Compare(context.Background(), source, target)
	require.NoError(t, err)

	items, ok := result.Table("items")
	require.True(t, ok)
	assert.Equal(t, IdenticalRecords, items.Category)
	assert.Equal(t, []string{"legacy"}, items.NullOnlyColumns)
}

func TestCompare_BusinessCriticalColumns(t *testing.T) {
	source, target := seedScenario(t)

	critical := WithCriticalColumns(func(column string) bool { return column == "promo_code" })
	result, err := newComparator(critical).Compare(context.Background(), source, target)
	require.NoError(t, err)

	orders, _ := result.Table("orders")
	require.Len(t, orders.ColumnDataLoss, 1)
	assert.True(t, orders.ColumnDataLoss[0].BusinessCritical)
}

func TestCompare_IsolatesTableErrors(t *testing.T) {
	source, target := seedScenario(t)
	testutil.Exec(t, source,
		`CREATE TABLE "bad-name" (id INTEGER)`,
		`INSERT INTO "bad-name" (id) VALUES (1)`,
	)

	result, err := newComparator().Compare(context.Background(), source, target)
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bad-name", result.Errors[0].Table)
	assert.Contains(t, result.Errors[0].Error, "invalid identifier")
	assert.Equal(t, 5, result.TotalTables)
	_, ok := result.Table("bad-name")
	assert.False(t, ok)
}

func TestCompare_ConnectivityError(t *testing.T) {
	source, target := seedScenario(t)
	require.NoError(t, source.Close())

	_, err := newComparator().Compare(context.Background(), source, target)
	require.Error(t, err)

	var connErr *database.ConnectivityError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "source", connErr.Target)
}
