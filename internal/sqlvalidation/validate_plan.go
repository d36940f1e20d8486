// Package sqlvalidation checks planned statements before they are executed.
package sqlvalidation

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/internal/planner"
)

// ValidationIssue is a problem found in one planned step.
type ValidationIssue struct {
	Step     int    `json:"step"`
	Line     int    `json:"line,omitempty"`
	Severity string `json:"severity"` // "error" or "warning"
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
}

// Result holds every issue of a plan. Valid is false when any issue is an
// error.
type Result struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues"`
}

// Errors returns the error-level issues.
func (r *Result) Errors() []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range r.Issues {
		if issue.Severity == "error" {
			out = append(out, issue)
		}
	}
	return out
}

var transactionKeywords = []string{"BEGIN", "START TRANSACTION", "COMMIT", "END", "ROLLBACK", "SAVEPOINT", "RELEASE"}

// ValidatePlanStatements checks that every step is a statement the executor
// can run inside its own transaction. PostgreSQL statements are parsed with
// the PostgreSQL parser; SQLite scripts are split and screened for
// transaction control.
func ValidatePlanStatements(steps []planner.Step, dialect database.Dialect) *Result {
	result := &Result{Issues: []ValidationIssue{}}
	for _, step := range steps {
		if IsNoOp(step.Statement) {
			continue
		}
		switch dialect {
		case database.DialectPostgres:
			result.Issues = append(result.Issues, validatePostgres(step)...)
		default:
			result.Issues = append(result.Issues, validateScript(step)...)
		}
	}
	result.Valid = len(result.Errors()) == 0
	return result
}

// IsNoOp reports whether a statement contains nothing but comments and
// whitespace.
func IsNoOp(statement string) bool {
	return strings.Trim(stripComments(statement), "; \t\r\n") == ""
}

func validatePostgres(step planner.Step) []ValidationIssue {
	tree, err := pg_query.Parse(step.Statement)
	if err != nil {
		return []ValidationIssue{{
			Step:     step.Number,
			Severity: "error",
			Message:  fmt.Sprintf("Statement does not parse: %v", err),
			Code:     "syntax_error",
		}}
	}

	var issues []ValidationIssue
	if len(tree.Stmts) != 1 {
		issues = append(issues, ValidationIssue{
			Step:     step.Number,
			Severity: "error",
			Message:  fmt.Sprintf("Expected exactly one statement, found %d", len(tree.Stmts)),
			Code:     "statement_count",
		})
	}
	for _, raw := range tree.Stmts {
		node := raw.GetStmt()
		if node.GetTransactionStmt() != nil {
			issues = append(issues, ValidationIssue{
				Step:     step.Number,
				Severity: "error",
				Message:  "Transaction control is not allowed in a planned step",
				Code:     "transaction_control",
			})
		}
		if v := node.GetVacuumStmt(); v != nil && v.GetIsVacuumcmd() {
			issues = append(issues, ValidationIssue{
				Step:     step.Number,
				Severity: "error",
				Message:  "VACUUM cannot run inside a transaction block",
				Code:     "vacuum_in_transaction",
			})
		}
		if d := node.GetDeleteStmt(); d != nil && d.GetWhereClause() == nil {
			issues = append(issues, ValidationIssue{
				Step:     step.Number,
				Severity: "warning",
				Message:  "DELETE without WHERE removes every row",
				Code:     "delete_all_rows",
			})
		}
	}
	return issues
}

func validateScript(step planner.Step) []ValidationIssue {
	var issues []ValidationIssue
	inTrigger := false
	for _, stmt := range splitSQLStatements(step.Statement) {
		body := strings.ToUpper(strings.TrimSpace(stripComments(stmt.sql)))
		body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
		if body == "" {
			continue
		}
		// a trigger body is split at its inner semicolons; its END closes it
		if inTrigger || isCreateTrigger(body) {
			fields := strings.Fields(body)
			inTrigger = fields[len(fields)-1] != "END"
			continue
		}
		for _, kw := range transactionKeywords {
			if body == kw || strings.HasPrefix(body, kw+" ") {
				issues = append(issues, ValidationIssue{
					Step:     step.Number,
					Line:     stmt.startLine,
					Severity: "error",
					Message:  "Transaction control is not allowed in a planned step",
					Code:     "transaction_control",
				})
				break
			}
		}
		if strings.HasPrefix(body, "VACUUM") {
			issues = append(issues, ValidationIssue{
				Step:     step.Number,
				Line:     stmt.startLine,
				Severity: "error",
				Message:  "VACUUM cannot run inside a transaction",
				Code:     "vacuum_in_transaction",
			})
		}
	}
	return issues
}

func isCreateTrigger(body string) bool {
	fields := strings.Fields(body)
	if len(fields) < 2 || fields[0] != "CREATE" {
		return false
	}
	if fields[1] == "TEMP" || fields[1] == "TEMPORARY" {
		fields = fields[1:]
	}
	return len(fields) > 1 && fields[1] == "TRIGGER"
}

type sqlStatement struct {
	sql       string
	startLine int
}

// splitSQLStatements splits SQL into individual statements by semicolons,
// ignoring semicolons in quotes and comments, and keeps the line each
// statement starts on.
func splitSQLStatements(sql string) []sqlStatement {
	var statements []sqlStatement
	var current strings.Builder
	line := 1
	startLine := 1
	seenContent := false

	inSingleQuote := false
	inDoubleQuote := false
	inLineComment := false
	inBlockComment := false

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if ch == '\n' {
			line++
			inLineComment = false
		}

		if !inSingleQuote && !inDoubleQuote {
			if !inBlockComment && i+1 < len(runes) && ch == '-' && runes[i+1] == '-' {
				inLineComment = true
			}
			if !inLineComment && i+1 < len(runes) && ch == '/' && runes[i+1] == '*' {
				inBlockComment = true
			}
			if inBlockComment && i+1 < len(runes) && ch == '*' && runes[i+1] == '/' {
				inBlockComment = false
				current.WriteRune(ch)
				i++
				current.WriteRune(runes[i])
				continue
			}
		}

		if !inLineComment && !inBlockComment {
			switch {
			case ch == '\'' && !inDoubleQuote:
				inSingleQuote = !inSingleQuote
			case ch == '"' && !inSingleQuote:
				inDoubleQuote = !inDoubleQuote
			}
		}

		if ch == ';' && !inSingleQuote && !inDoubleQuote && !inLineComment && !inBlockComment {
			current.WriteRune(ch)
			statements = append(statements, sqlStatement{sql: current.String(), startLine: startLine})
			current.Reset()
			seenContent = false
			continue
		}

		if !seenContent && !inLineComment && !inBlockComment && !strings.ContainsRune(" \t\r\n", ch) {
			startLine = line
			seenContent = true
		}
		current.WriteRune(ch)
	}

	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, sqlStatement{sql: current.String(), startLine: startLine})
	}
	return statements
}

// stripComments removes -- and /* */ comments outside of quotes.
func stripComments(sql string) string {
	var out strings.Builder
	inSingleQuote, inDoubleQuote := false, false
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if !inSingleQuote && !inDoubleQuote && i+1 < len(runes) {
			if ch == '-' && runes[i+1] == '-' {
				for i < len(runes) && runes[i] != '\n' {
					i++
				}
				if i < len(runes) {
					out.WriteRune('\n')
				}
				continue
			}
			if ch == '/' && runes[i+1] == '*' {
				i += 2
				for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
					i++
				}
				i++
				continue
			}
		}
		switch {
		case ch == '\'' && !inDoubleQuote:
			inSingleQuote = !inSingleQuote
		case ch == '"' && !inSingleQuote:
			inDoubleQuote = !inDoubleQuote
		}
		out.WriteRune(ch)
	}
	return out.String()
}
