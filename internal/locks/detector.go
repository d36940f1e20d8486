package locks

import (
	"strings"

	"github.com/lockplane/downshift/internal/planner"
	"github.com/lockplane/downshift/internal/sqlvalidation"
)

// LockImpact describes the lock impact of one plan step
type LockImpact struct {
	Step         int         `json:"step"`
	Operation    string      `json:"operation"`
	LockMode     LockMode    `json:"lock_mode"`
	BlocksReads  bool        `json:"blocks_reads"`
	BlocksWrites bool        `json:"blocks_writes"`
	Impact       ImpactLevel `json:"impact"`
	Explanation  string      `json:"explanation"`
}

// DetectLockMode returns the strongest table lock a step acquires.
func DetectLockMode(step planner.Step) LockMode {
	if sqlvalidation.IsNoOp(step.Statement) {
		return LockNone
	}
	sqlUpper := normalize(step.Statement)

	switch {
	case strings.HasPrefix(sqlUpper, "DROP TABLE"),
		strings.HasPrefix(sqlUpper, "ALTER TABLE"),
		strings.HasPrefix(sqlUpper, "TRUNCATE"):
		return LockAccessExclusive
	case strings.HasPrefix(sqlUpper, "ANALYZE"), strings.HasPrefix(sqlUpper, "VACUUM"):
		return LockShareUpdateExclusive
	case strings.HasPrefix(sqlUpper, "INSERT"),
		strings.HasPrefix(sqlUpper, "UPDATE"),
		strings.HasPrefix(sqlUpper, "DELETE"):
		return LockRowExclusive
	case strings.HasPrefix(sqlUpper, "SELECT"):
		return LockAccessShare
	}

	// Default: assume high lock for safety
	return LockAccessExclusive
}

// AnalyzeLockImpact returns detailed lock impact information for a plan step
func AnalyzeLockImpact(step planner.Step) LockImpact {
	mode := DetectLockMode(step)
	return LockImpact{
		Step:         step.Number,
		Operation:    step.Description,
		LockMode:     mode,
		BlocksReads:  mode.BlocksReads(),
		BlocksWrites: mode.BlocksWrites(),
		Impact:       mode.ImpactLevel(),
		Explanation:  explainLockMode(step, mode),
	}
}

// AnalyzePlan returns the lock impact of every step in order.
func AnalyzePlan(plan *planner.Plan) []LockImpact {
	out := make([]LockImpact, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		out = append(out, AnalyzeLockImpact(s))
	}
	return out
}

// Strongest returns the highest lock mode among impacts. All locks are held
// until the migration transaction commits.
func Strongest(impacts []LockImpact) LockMode {
	strongest := LockNone
	for _, i := range impacts {
		if i.LockMode > strongest {
			strongest = i.LockMode
		}
	}
	return strongest
}

func explainLockMode(step planner.Step, mode LockMode) string {
	sqlUpper := normalize(step.Statement)

	switch mode {
	case LockNone:
		return "Nothing is sent to the server"
	case LockAccessExclusive:
		switch {
		case strings.HasPrefix(sqlUpper, "DROP TABLE") && strings.Contains(sqlUpper, "CASCADE"):
			return "DROP TABLE CASCADE locks the table and every object depending on it"
		case strings.HasPrefix(sqlUpper, "DROP TABLE"):
			return "DROP TABLE requires exclusive access to remove the table"
		case strings.Contains(sqlUpper, "DROP CONSTRAINT"):
			return "Dropping a foreign key locks the owning table; the referenced table gets SHARE ROW EXCLUSIVE"
		case strings.HasPrefix(sqlUpper, "ALTER TABLE"):
			return "ALTER TABLE operation requires exclusive access"
		}
		return "This operation requires exclusive table access"
	case LockShareUpdateExclusive:
		return "Statistics refresh allows concurrent reads and writes"
	case LockRowExclusive:
		return "Row changes block only DDL on the table"
	case LockAccessShare:
		return "Read-only operation"
	}
	return "Standard locking for this operation type"
}

// normalize drops comment lines and upper-cases the statement.
func normalize(statement string) string {
	var lines []string
	for _, line := range strings.Split(statement, "\n") {
		if t := strings.TrimSpace(line); t != "" && !strings.HasPrefix(t, "--") {
			lines = append(lines, t)
		}
	}
	return strings.ToUpper(strings.Join(lines, " "))
}
