package locks_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/lockplane/downshift/internal/locks"
	"github.com/lockplane/downshift/internal/planner"
)

func TestDetectLockMode(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		expected  locks.LockMode
	}{
		{"drop table", `DROP TABLE IF EXISTS "helpdesk_ticket" CASCADE`, locks.LockAccessExclusive},
		{"drop constraint", `ALTER TABLE "res_partner" DROP CONSTRAINT IF EXISTS "res_partner_team_fkey"`, locks.LockAccessExclusive},
		{"update", `UPDATE "ir_cron" SET "active" = FALSE WHERE "model_id" IN (2, 3)`, locks.LockRowExclusive},
		{"delete", `DELETE FROM "ir_model" WHERE "model" IN ('helpdesk.ticket')`, locks.LockRowExclusive},
		{"analyze", `ANALYZE`, locks.LockShareUpdateExclusive},
		{"select", `SELECT 1`, locks.LockAccessShare},
		{"comment only", `-- nothing to disable`, locks.LockNone},
		{"leading comment", "-- remove the team table\nDROP TABLE \"helpdesk_team\"", locks.LockAccessExclusive},
		{"unknown", `REINDEX TABLE "res_partner"`, locks.LockAccessExclusive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := locks.DetectLockMode(planner.Step{Statement: tt.statement})
			if got != tt.expected {
				t.Errorf("DetectLockMode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLockMode_Blocking(t *testing.T) {
	tests := []struct {
		mode         locks.LockMode
		blocksReads  bool
		blocksWrites bool
		impact       locks.ImpactLevel
	}{
		{locks.LockNone, false, false, locks.ImpactNone},
		{locks.LockAccessShare, false, false, locks.ImpactNone},
		{locks.LockRowExclusive, false, false, locks.ImpactNone},
		{locks.LockShareUpdateExclusive, false, false, locks.ImpactLow},
		{locks.LockShare, false, true, locks.ImpactMedium},
		{locks.LockShareRowExclusive, false, true, locks.ImpactHigh},
		{locks.LockAccessExclusive, true, true, locks.ImpactHigh},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			if got := tt.mode.BlocksReads(); got != tt.blocksReads {
				t.Errorf("BlocksReads() = %v, want %v", got, tt.blocksReads)
			}
			if got := tt.mode.BlocksWrites(); got != tt.blocksWrites {
				t.Errorf("BlocksWrites() = %v, want %v", got, tt.blocksWrites)
			}
			if got := tt.mode.ImpactLevel(); got != tt.impact {
				t.Errorf("ImpactLevel() = %v, want %v", got, tt.impact)
			}
		})
	}
}

func TestAnalyzePlan(t *testing.T) {
	plan := &planner.Plan{Steps: []planner.Step{
		{Number: 1, Description: "Disable scheduled jobs", Statement: `UPDATE "ir_cron" SET "active" = FALSE WHERE "model_id" IN (2)`},
		{Number: 2, Description: "Drop foreign key", Statement: `ALTER TABLE "res_partner" DROP CONSTRAINT "fk"`},
		{Number: 3, Description: "Drop table helpdesk_team", Statement: `DROP TABLE "helpdesk_team" CASCADE`},
	}}

	impacts := locks.AnalyzePlan(plan)
	if len(impacts) != 3 {
		t.Fatalf("expected 3 impacts, got %d", len(impacts))
	}
	if impacts[0].Step != 1 || impacts[0].Impact != locks.ImpactNone {
		t.Errorf("unexpected impact for step 1: %+v", impacts[0])
	}
	if !strings.Contains(impacts[1].Explanation, "foreign key") {
		t.Errorf("expected foreign key explanation, got %q", impacts[1].Explanation)
	}
	if !strings.Contains(impacts[2].Explanation, "CASCADE") {
		t.Errorf("expected cascade explanation, got %q", impacts[2].Explanation)
	}
	if got := locks.Strongest(impacts); got != locks.LockAccessExclusive {
		t.Errorf("Strongest() = %v, want ACCESS EXCLUSIVE", got)
	}
	if got := locks.Strongest(nil); got != locks.LockNone {
		t.Errorf("Strongest(nil) = %v, want NONE", got)
	}
}

func TestLockImpact_JSON(t *testing.T) {
	data, err := json.Marshal(locks.AnalyzeLockImpact(planner.Step{Number: 4, Statement: "ANALYZE"}))
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, `"lock_mode":"SHARE UPDATE EXCLUSIVE"`) || !strings.Contains(s, `"impact":"LOW"`) {
		t.Errorf("unexpected JSON: %s", s)
	}
}
