// Package testutil holds database fixtures shared by package tests.
package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens a file-backed SQLite database in the test's temp dir.
// File-backed databases are used instead of :memory: so that every pooled
// connection sees the same data.
func OpenSQLite(t *testing.T, name string) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), name+".db")
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("Failed to open SQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping SQLite: %v", err)
	}
	return db
}

// Exec runs each statement and fails the test on the first error.
func Exec(t *testing.T, db *sql.DB, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute %q: %v", stmt, err)
		}
	}
}

// Count returns SELECT COUNT(*) for the given query tail, e.g. "FROM orders".
func Count(t *testing.T, db *sql.DB, tail string) int64 {
	t.Helper()
	var n int64
	if err := db.QueryRow("SELECT COUNT(*) " + tail).Scan(&n); err != nil {
		t.Fatalf("Failed to count %q: %v", tail, err)
	}
	return n
}

// InsertSeries runs "<insert> WITH RECURSIVE seq(n) ... SELECT <selectList> FROM seq"
// so selectList can build n rows from the counter n, starting at 1.
func InsertSeries(t *testing.T, db *sql.DB, insert string, n int, selectList string) {
	t.Helper()
	stmt := fmt.Sprintf("%s WITH RECURSIVE seq(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM seq WHERE n < %d) SELECT %s FROM seq",
		insert, n, selectList)
	Exec(t, db, stmt)
}
