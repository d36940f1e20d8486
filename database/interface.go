package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect identifies the SQL dialect spoken by a connection.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Schema represents a database schema
type Schema struct {
	Tables []Table `json:"tables"`
}

// Table represents a database table
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`

	// Definition and Dependents are the stored CREATE statements of the table
	// and of its indexes and triggers, where the dialect keeps them (SQLite).
	Definition string   `json:"definition,omitempty"`
	Dependents []string `json:"dependents,omitempty"`
}

// Column represents a table column
type Column struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	Default      *string `json:"default,omitempty"`
	IsPrimaryKey bool    `json:"is_primary_key"`
}

// ForeignKey represents a foreign key constraint owned by Table.
type ForeignKey struct {
	Name              string   `json:"name"`
	Table             string   `json:"table"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
}

// ColumnNames returns the column names of the table in ordinal order.
func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// CheckColumns verifies that table and its columns were enumerated.
func (s *Schema) CheckColumns(table string, columns ...string) error {
	tables := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		tables[i] = t.Name
	}
	if err := NewAllowlist(tables...).Check(table); err != nil {
		return err
	}
	t, _ := s.Table(table)
	allowed := NewAllowlist(t.ColumnNames()...)
	for _, c := range columns {
		if err := allowed.Check(c); err != nil {
			return fmt.Errorf("table %s: %w", table, err)
		}
	}
	return nil
}

// Introspector defines the interface for database schema introspection
type Introspector interface {
	// IntrospectSchema reads every table, its columns and its foreign keys
	IntrospectSchema(ctx context.Context, db *sql.DB) (*Schema, error)

	// GetTables returns all base table names in the default schema
	GetTables(ctx context.Context, db *sql.DB) ([]string, error)

	// GetColumns returns all columns for a given table
	GetColumns(ctx context.Context, db *sql.DB, tableName string) ([]Column, error)

	// GetForeignKeys returns all foreign keys for a given table
	GetForeignKeys(ctx context.Context, db *sql.DB, tableName string) ([]ForeignKey, error)
}

// SQLGenerator defines the interface for generating database-specific SQL.
// Identifiers passed in must already have passed the allow-list.
type SQLGenerator interface {
	// QuoteIdentifier quotes a table or column name
	QuoteIdentifier(name string) string

	// QuoteLiteral quotes a string literal
	QuoteLiteral(value string) string

	// TextExpr renders a column as a text expression suitable for ordering
	// and cross-database comparison
	TextExpr(column string) string

	// DropTable generates SQL to drop a table together with dependent objects
	DropTable(tableName string) (sql string, description string)

	// Analyze generates the statistics refresh statement run after a migration
	Analyze() (sql string, description string)

	// ParameterPlaceholder returns the parameter placeholder for this database
	// PostgreSQL: $1, $2, etc.
	// SQLite: ?, ?, etc.
	ParameterPlaceholder(position int) string
}

// ForeignKeyDropper is implemented by dialects that drop a constraint in place.
type ForeignKeyDropper interface {
	DropForeignKey(fk ForeignKey) (sql string, description string)
}

// ForeignKeyRebuilder is implemented by dialects that can only drop a
// constraint by recreating the owning table.
type ForeignKeyRebuilder interface {
	RebuildWithoutForeignKeys(table Table, drop []ForeignKey) (sql string, description string)
}

// Driver represents a database driver with introspection and SQL generation
type Driver interface {
	Introspector
	SQLGenerator

	// Name returns the database driver name (e.g., "postgres", "sqlite")
	Name() string

	// Dialect returns the SQL dialect of the driver
	Dialect() Dialect
}
