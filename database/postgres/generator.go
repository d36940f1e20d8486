package postgres

import (
	"fmt"

	"github.com/lib/pq"

	"github.com/lockplane/downshift/database"
)

// Generator implements database.SQLGenerator for PostgreSQL
type Generator struct{}

// NewGenerator creates a new PostgreSQL SQL generator
func NewGenerator() *Generator {
	return &Generator{}
}

// QuoteIdentifier quotes a PostgreSQL identifier
func (g *Generator) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// QuoteLiteral quotes a PostgreSQL string literal
func (g *Generator) QuoteLiteral(value string) string {
	return pq.QuoteLiteral(value)
}

// TextExpr casts a column to text
func (g *Generator) TextExpr(column string) string {
	return pq.QuoteIdentifier(column) + "::text"
}

// DropTable generates PostgreSQL SQL to drop a table
func (g *Generator) DropTable(tableName string) (string, string) {
	sql := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", g.QuoteIdentifier(tableName))
	description := fmt.Sprintf("Drop table %s", tableName)
	return sql, description
}

// DropForeignKey generates PostgreSQL SQL to drop a foreign key constraint
func (g *Generator) DropForeignKey(fk database.ForeignKey) (string, string) {
	sql := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s",
		g.QuoteIdentifier(fk.Table), g.QuoteIdentifier(fk.Name))
	description := fmt.Sprintf("Drop foreign key %s from table %s (references %s)", fk.Name, fk.Table, fk.ReferencedTable)
	return sql, description
}

// Analyze refreshes planner statistics. VACUUM cannot run inside a
// transaction block, ANALYZE can.
func (g *Generator) Analyze() (string, string) {
	return "ANALYZE", "Refresh planner statistics"
}

// ParameterPlaceholder returns the PostgreSQL parameter placeholder ($1, $2, etc.)
func (g *Generator) ParameterPlaceholder(position int) string {
	return fmt.Sprintf("$%d", position)
}
