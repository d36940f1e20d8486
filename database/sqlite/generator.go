package sqlite

import (
	"fmt"
	"strings"
)

// Generator implements database.SQLGenerator for SQLite
type Generator struct{}

// NewGenerator creates a new SQLite SQL generator
func NewGenerator() *Generator {
	return &Generator{}
}

// QuoteIdentifier quotes an SQLite identifier
func (g *Generator) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes an SQLite string literal
func (g *Generator) QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// TextExpr casts a column to text
func (g *Generator) TextExpr(column string) string {
	return fmt.Sprintf("CAST(%s AS TEXT)", g.QuoteIdentifier(column))
}

// DropTable generates SQLite SQL to drop a table. SQLite has no CASCADE.
func (g *Generator) DropTable(tableName string) (string, string) {
	sql := fmt.Sprintf("DROP TABLE IF EXISTS %s", g.QuoteIdentifier(tableName))
	description := fmt.Sprintf("Drop table %s", tableName)
	return sql, description
}

// Analyze refreshes query planner statistics
func (g *Generator) Analyze() (string, string) {
	return "ANALYZE", "Refresh planner statistics"
}

// ParameterPlaceholder returns the SQLite parameter placeholder (?)
func (g *Generator) ParameterPlaceholder(position int) string {
	return "?"
}
