package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lockplane/downshift/database"
)

// Introspector implements database.Introspector for SQLite using the
// table-valued pragma functions, so a whole schema is read in four queries.
type Introspector struct{}

// NewIntrospector creates a new SQLite introspector
func NewIntrospector() *Introspector {
	return &Introspector{}
}

const tablesQuery = `
	SELECT name
	FROM sqlite_master
	WHERE type = 'table'
	  AND name NOT LIKE 'sqlite_%'
	ORDER BY name`

const columnsQuery = `
	SELECT m.name, p.name, p.type, p."notnull", p.dflt_value, p.pk
	FROM sqlite_master m
	JOIN pragma_table_info(m.name) p
	WHERE m.type = 'table'
	  AND m.name NOT LIKE 'sqlite_%'
	  AND (? = '' OR m.name = ?)
	ORDER BY m.name, p.cid`

const foreignKeysQuery = `
	SELECT m.name, f.id, f."table", f."from", f."to"
	FROM sqlite_master m
	JOIN pragma_foreign_key_list(m.name) f
	WHERE m.type = 'table'
	  AND m.name NOT LIKE 'sqlite_%'
	  AND (? = '' OR m.name = ?)
	ORDER BY m.name, f.id, f.seq`

// definitionsQuery lists the stored CREATE statements of every table and of
// the indexes and triggers attached to it. Automatic indexes have no SQL.
const definitionsQuery = `
	SELECT tbl_name, type, sql
	FROM sqlite_master
	WHERE type IN ('table', 'index', 'trigger')
	  AND sql IS NOT NULL
	  AND tbl_name NOT LIKE 'sqlite_%'
	ORDER BY tbl_name, CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1 ELSE 2 END, name`

// IntrospectSchema reads the entire SQLite database schema
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
	definitions, err := i.definitions(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to read table definitions: %w", err)
	}

	schema := &database.Schema{Tables: make([]database.Table, 0, len(tables))}
	for _, name := range tables {
		schema.Tables = append(schema.Tables, database.Table{
			Name:        name,
			Columns:     columns[name],
			ForeignKeys: foreignKeys[name],
			Definition:  definitions[name].create,
			Dependents:  definitions[name].dependents,
		})
	}
	return schema, nil
}

// GetTables returns all table names in the SQLite database
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

// GetColumns returns all columns for a given SQLite table
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

// GetForeignKeys returns all foreign keys for a given SQLite table. SQLite
// constraints are unnamed, so keys are named fk_<table>_<id>.
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
	rows, err := db.QueryContext(ctx, columnsQuery, tableName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]database.Column)
	for rows.Next() {
		var table string
		var col database.Column
		var notNull, pk int
		var defaultVal sql.NullString
		if err := rows.Scan(&table, &col.Name, &col.Type, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		col.Nullable = notNull == 0
		col.IsPrimaryKey = pk > 0
		if defaultVal.Valid {
			col.Default = &defaultVal.String
		}
		out[table] = append(out[table], col)
	}
	return out, rows.Err()
}

func (i *Introspector) foreignKeys(ctx context.Context, db *sql.DB, tableName string) (map[string][]database.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, foreignKeysQuery, tableName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]database.ForeignKey)
	for rows.Next() {
		var table, refTable, from string
		var id int
		var to sql.NullString
		if err := rows.Scan(&table, &id, &refTable, &from, &to); err != nil {
			return nil, err
		}

		name := fmt.Sprintf("fk_%s_%d", table, id)
		fks := out[table]
		if n := len(fks); n == 0 || fks[n-1].Name != name {
			fks = append(fks, database.ForeignKey{Name: name, Table: table, ReferencedTable: refTable})
		}
		fk := &fks[len(fks)-1]
		fk.Columns = append(fk.Columns, from)
		// "to" is NULL when the key references the parent's primary key implicitly
		if to.Valid {
			fk.ReferencedColumns = append(fk.ReferencedColumns, to.String)
		}
		out[table] = fks
	}
	return out, rows.Err()
}

type definition struct {
	create     string
	dependents []string
}

func (i *Introspector) definitions(ctx context.Context, db *sql.DB) (map[string]definition, error) {
	rows, err := db.QueryContext(ctx, definitionsQuery)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]definition)
	for rows.Next() {
		var table, kind, stmt string
		if err := rows.Scan(&table, &kind, &stmt); err != nil {
			return nil, err
		}
		d := out[table]
		if kind == "table" {
			d.create = stmt
		} else {
			d.dependents = append(d.dependents, stmt)
		}
		out[table] = d
	}
	return out, rows.Err()
}
