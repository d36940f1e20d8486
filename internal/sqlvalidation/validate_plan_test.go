package sqlvalidation

import (
	"testing"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/internal/planner"
)

func steps(statements ...string) []planner.Step {
	out := make([]planner.Step, len(statements))
	for i, s := range statements {
		out[i] = planner.Step{Number: i + 1, Name: "step", Statement: s}
	}
	return out
}

func TestValidatePlanStatements_Postgres(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		valid     bool
		code      string
	}{
		{"drop table", `DROP TABLE IF EXISTS "helpdesk_ticket" CASCADE`, true, ""},
		{"drop constraint", `ALTER TABLE "b" DROP CONSTRAINT IF EXISTS "b_a_id_fkey"`, true, ""},
		{"analyze", "ANALYZE", true, ""},
		{"update", `UPDATE "ir_cron" SET "active" = FALSE WHERE "model_id" IN (SELECT "id" FROM "ir_model" WHERE "model" IN ('helpdesk.ticket'))`, true, ""},
		{"delete without where", `DELETE FROM "ir_model"`, true, "delete_all_rows"},
		{"syntax error", `DROPP TABLE x`, false, "syntax_error"},
		{"two statements", `DROP TABLE a; DROP TABLE b`, false, "statement_count"},
		{"commit", `COMMIT`, false, "transaction_control"},
		{"vacuum", `VACUUM ANALYZE`, false, "vacuum_in_transaction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidatePlanStatements(steps(tt.statement), database.DialectPostgres)
			if result.Valid != tt.valid {
				t.Errorf("Valid = %v, want %v (issues: %+v)", result.Valid, tt.valid, result.Issues)
			}
			if tt.code == "" {
				if len(result.Issues) != 0 {
					t.Errorf("Expected no issues, got %+v", result.Issues)
				}
				return
			}
			found := false
			for _, issue := range result.Issues {
				if issue.Code == tt.code {
					found = true
					if issue.Step != 1 {
						t.Errorf("Expected issue on step 1, got %d", issue.Step)
					}
				}
			}
			if !found {
				t.Errorf("Expected issue %q, got %+v", tt.code, result.Issues)
			}
		})
	}
}

func TestValidatePlanStatements_SQLiteScript(t *testing.T) {
	rebuild := `CREATE TABLE "p__rebuild" ("id" INTEGER PRIMARY KEY, "name" TEXT DEFAULT 'a;b');
INSERT INTO "p__rebuild" ("id", "name") SELECT "id", "name" FROM "p";
DROP TABLE "p";
ALTER TABLE "p__rebuild" RENAME TO "p";`

	result := ValidatePlanStatements(steps(rebuild, "ANALYZE"), database.DialectSQLite)
	if !result.Valid {
		t.Fatalf("Expected valid script, got %+v", result.Issues)
	}

	result = ValidatePlanStatements(steps("DELETE FROM x WHERE id = 1;\nCOMMIT;\nBEGIN;"), database.DialectSQLite)
	if result.Valid {
		t.Fatal("Expected transaction control to be rejected")
	}
	if len(result.Errors()) != 2 {
		t.Fatalf("Expected 2 errors, got %+v", result.Issues)
	}
	if result.Errors()[0].Line != 2 {
		t.Errorf("Expected COMMIT reported on line 2, got %d", result.Errors()[0].Line)
	}
}

func TestValidatePlanStatements_SQLiteTriggerBody(t *testing.T) {
	script := `DROP TABLE "p";
ALTER TABLE "p__rebuild" RENAME TO "p";
CREATE INDEX p_name ON p (name);
CREATE TRIGGER p_cleanup AFTER DELETE ON p BEGIN
	DELETE FROM q WHERE p_id = OLD.id;
	UPDATE r SET active = 0 WHERE p_id = OLD.id;
END;`

	result := ValidatePlanStatements(steps(script), database.DialectSQLite)
	if !result.Valid {
		t.Fatalf("Expected trigger bodies to be accepted, got %+v", result.Issues)
	}

	result = ValidatePlanStatements(steps(script+"\nCOMMIT;"), database.DialectSQLite)
	if len(result.Errors()) != 1 || result.Errors()[0].Line != 8 {
		t.Fatalf("Expected COMMIT after the trigger on line 8, got %+v", result.Issues)
	}
}

func TestIsNoOp(t *testing.T) {
	tests := []struct {
		sql  string
		noop bool
	}{
		{"-- Drop foreign key fk_b_0 on b", true},
		{"/* nothing */ ;", true},
		{"  \n", true},
		{"ANALYZE", false},
		{"-- comment\nDROP TABLE a", false},
		{"SELECT '--not a comment'", false},
	}
	for _, tt := range tests {
		if got := IsNoOp(tt.sql); got != tt.noop {
			t.Errorf("IsNoOp(%q) = %v, want %v", tt.sql, got, tt.noop)
		}
	}
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements("-- header\nSELECT ';';\n\nSELECT 2;")
	if len(stmts) != 2 {
		t.Fatalf("Expected 2 statements, got %d: %+v", len(stmts), stmts)
	}
	if stmts[0].startLine != 2 || stmts[1].startLine != 4 {
		t.Errorf("Unexpected start lines: %d, %d", stmts[0].startLine, stmts[1].startLine)
	}
}
