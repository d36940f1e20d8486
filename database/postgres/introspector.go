package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lockplane/downshift/database"
)

// Introspector implements database.Introspector for PostgreSQL. It reads
// pg_catalog of the current schema; IntrospectSchema needs three queries
// regardless of the number of tables.
type Introspector struct{}

// NewIntrospector creates a new PostgreSQL introspector
func NewIntrospector() *Introspector {
	return &Introspector{}
}

const tablesQuery = `
	SELECT c.relname
	FROM pg_catalog.pg_class c
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = current_schema()
	  AND c.relkind IN ('r', 'p')
	ORDER BY c.relname`

// columnsQuery lists the columns of one table, or of every table when $1 is
// empty.
const columnsQuery = `
	SELECT
		c.relname,
		a.attname,
		pg_catalog.format_type(a.atttypid, a.atttypmod),
		NOT a.attnotnull,
		pg_catalog.pg_get_expr(d.adbin, d.adrelid),
		COALESCE(a.attnum = ANY(i.indkey), false)
	FROM pg_catalog.pg_attribute a
	JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
	LEFT JOIN pg_catalog.pg_index i ON i.indrelid = c.oid AND i.indisprimary
	WHERE n.nspname = current_schema()
	  AND c.relkind IN ('r', 'p')
	  AND a.attnum > 0
	  AND NOT a.attisdropped
	  AND ($1::text = '' OR c.relname = $1::text)
	ORDER BY c.relname, a.attnum`

// foreignKeysQuery lists foreign key columns pairwise in key order, for one
// table or every table when $1 is empty.
const foreignKeysQuery = `
	SELECT con.conname, c.relname, a.attname, rc.relname, ra.attname
	FROM pg_catalog.pg_constraint con
	JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	JOIN pg_catalog.pg_class rc ON rc.oid = con.confrelid
	CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, refattnum, ord)
	JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
	JOIN pg_catalog.pg_attribute ra ON ra.attrelid = con.confrelid AND ra.attnum = k.refattnum
	WHERE con.contype = 'f'
	  AND n.nspname = current_schema()
	  AND ($1::text = '' OR c.relname = $1::text)
	ORDER BY c.relname, con.conname, k.ord`

// IntrospectSchema reads the entire PostgreSQL database schema
func (i *Introspector) IntrospectSchema(ctx context.Context, db *sql.DB) (*database.Schema, error) {
	tables, err := i.GetTables(ctx, db)
	if err != nil {
		return nil, err
	}
	columns, err := i.columns(ctx, db, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	foreignKeys, err := i.foreignKeys(ctx, db, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}

	schema := &database.Schema{Tables: make([]database.Table, 0, len(tables))}
	for _, name := range tables {
		schema.Tables = append(schema.Tables, database.Table{
			Name:        name,
			Columns:     columns[name],
			ForeignKeys: foreignKeys[name],
		})
	}
	return schema, nil
}

// GetTables returns all table names in the current schema
func (i *Introspector) GetTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}
	return tableNames, rows.Err()
}

// GetColumns returns all columns for a given PostgreSQL table
func (i *Introspector) GetColumns(ctx context.Context, db *sql.DB, tableName string) ([]database.Column, error) {
	if err := database.ValidateIdentifier(tableName); err != nil {
		return nil, err
	}
	byTable, err := i.columns(ctx, db, tableName)
	if err != nil {
		return nil, err
	}
	return byTable[tableName], nil
}

// GetForeignKeys returns all foreign keys for a given PostgreSQL table
func (i *Introspector) GetForeignKeys(ctx context.Context, db *sql.DB, tableName string) ([]database.ForeignKey, error) {
	if err := database.ValidateIdentifier(tableName); err != nil {
		return nil, err
	}
	byTable, err := i.foreignKeys(ctx, db, tableName)
	if err != nil {
		return nil, err
	}
	return byTable[tableName], nil
}

func (i *Introspector) columns(ctx context.Context, db *sql.DB, tableName string) (map[string][]database.Column, error) {
	rows, err := db.QueryContext(ctx, columnsQuery, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]database.Column)
	for rows.Next() {
		var table string
		var col database.Column
		var defaultVal sql.NullString
		if err := rows.Scan(&table, &col.Name, &col.Type, &col.Nullable, &defaultVal, &col.IsPrimaryKey); err != nil {
			return nil, err
		}
		if defaultVal.Valid {
			col.Default = &defaultVal.String
		}
		out[table] = append(out[table], col)
	}
	return out, rows.Err()
}

func (i *Introspector) foreignKeys(ctx context.Context, db *sql.DB, tableName string) (map[string][]database.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, foreignKeysQuery, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]database.ForeignKey)
	for rows.Next() {
		var name, table, column, refTable, refColumn string
		if err := rows.Scan(&name, &table, &column, &refTable, &refColumn); err != nil {
			return nil, err
		}

		// rows arrive grouped by table and constraint
		fks := out[table]
		if n := len(fks); n == 0 || fks[n-1].Name != name {
			fks = append(fks, database.ForeignKey{Name: name, Table: table, ReferencedTable: refTable})
		}
		fk := &fks[len(fks)-1]
		fk.Columns = append(fk.Columns, column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
		out[table] = fks
	}
	return out, rows.Err()
}
