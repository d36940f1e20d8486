package planner

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/database/postgres"
	"github.com/lockplane/downshift/database/sqlite"
	"github.com/lockplane/downshift/internal/catalog"
	"github.com/lockplane/downshift/internal/testutil"
)

func defaultCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("Failed to load default catalog: %v", err)
	}
	return cat
}

// abSchema has tables a and b with b.a_id referencing a.
func abSchema() *database.Schema {
	return &database.Schema{Tables: []database.Table{
		{Name: "a", Columns: []database.Column{{Name: "id", Type: "integer", IsPrimaryKey: true}}},
		{
			Name: "b",
			Columns: []database.Column{
				{Name: "id", Type: "integer", IsPrimaryKey: true},
				{Name: "a_id", Type: "integer", Nullable: true},
			},
			ForeignKeys: []database.ForeignKey{
				{Name: "b_a_id_fkey", Table: "b", Columns: []string{"a_id"}, ReferencedTable: "a", ReferencedColumns: []string{"id"}},
			},
		},
	}}
}

func indexOf(steps []Step, statement string) int {
	for i, s := range steps {
		if s.Statement == statement {
			return i
		}
	}
	return -1
}

func TestPlan_DropsConstraintBeforeReferencedTable(t *testing.T) {
	analysis := &Analysis{Tables: []string{"a", "b"}, Schema: abSchema()}

	plan, err := NewPlanner(defaultCatalog(t), postgres.NewDriver()).Plan(analysis)
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}

	dropFK := indexOf(plan.Steps, `ALTER TABLE "b" DROP CONSTRAINT IF EXISTS "b_a_id_fkey"`)
	dropA := indexOf(plan.Steps, `DROP TABLE IF EXISTS "a" CASCADE`)
	dropB := indexOf(plan.Steps, `DROP TABLE IF EXISTS "b" CASCADE`)

	if dropFK < 0 || dropA < 0 || dropB < 0 {
		t.Fatalf("Expected constraint and table drops, got %+v", plan.Steps)
	}
	if dropFK >= dropA {
		t.Errorf("Expected constraint drop (step %d) before dropping a (step %d)", dropFK, dropA)
	}
	if dropB >= dropA {
		t.Errorf("Expected referencing table b (step %d) to be dropped before a (step %d)", dropB, dropA)
	}

	last := plan.Steps[len(plan.Steps)-1]
	if last.Statement != "ANALYZE" {
		t.Errorf("Expected ANALYZE as final step, got %q", last.Statement)
	}
	for i, s := range plan.Steps {
		if s.Number != i+1 {
			t.Errorf("Step %d has number %d", i, s.Number)
		}
	}
}

func TestPlan_SkipsRegistryStepsWhenTablesAbsent(t *testing.T) {
	analysis := &Analysis{
		Modules: []string{"helpdesk"},
		Models:  []string{"helpdesk.ticket"},
		Tables:  []string{"a"},
		Schema:  abSchema(),
	}

	plan, err := NewPlanner(defaultCatalog(t), postgres.NewDriver()).Plan(analysis)
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}

	for _, s := range plan.Steps {
		if strings.Contains(s.Statement, "ir_") {
			t.Errorf("Unexpected registry step %q", s.Name)
		}
	}
}

func TestPlan_Deterministic(t *testing.T) {
	cat := defaultCatalog(t)
	first := &Analysis{
		Modules:        []string{"web_studio", "helpdesk"},
		Models:         []string{"helpdesk.ticket", "helpdesk.team"},
		Tables:         []string{"b", "a"},
		RegistryTables: []string{},
		Schema:         abSchema(),
	}
	second := &Analysis{
		Modules:        []string{"helpdesk", "web_studio"},
		Models:         []string{"helpdesk.team", "helpdesk.ticket"},
		Tables:         []string{"a", "b"},
		RegistryTables: []string{},
		Schema:         abSchema(),
	}
	second.Schema.Tables[0], second.Schema.Tables[1] = second.Schema.Tables[1], second.Schema.Tables[0]

	p1, err := NewPlanner(cat, postgres.NewDriver()).Plan(first)
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}
	p2, err := NewPlanner(cat, postgres.NewDriver()).Plan(second)
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}

	if !reflect.DeepEqual(p1, p2) {
		t.Errorf("Expected identical plans for identical input\nfirst:  %+v\nsecond: %+v", p1, p2)
	}
	if p1.InputHash == "" {
		t.Error("Expected input hash")
	}

	first.Tables = []string{"a"}
	p3, _ := NewPlanner(cat, postgres.NewDriver()).Plan(first)
	if p3.InputHash == p1.InputHash {
		t.Error("Expected a different hash for different input")
	}
}

func TestPlan_RejectsUnsafeInput(t *testing.T) {
	cat := defaultCatalog(t)

	tests := []struct {
		name     string
		analysis *Analysis
	}{
		{"table not in schema", &Analysis{Tables: []string{"ghost"}, Schema: abSchema()}},
		{"injected table name", &Analysis{Tables: []string{`a"; DROP TABLE b; --`}, Schema: abSchema()}},
		{"nil schema", &Analysis{Tables: []string{"a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPlanner(cat, postgres.NewDriver()).Plan(tt.analysis); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestPlan_RejectsUnsafeLiteral(t *testing.T) {
	db := testutil.OpenSQLite(t, "staging")
	testutil.SeedStaging(t, db)

	driver := sqlite.NewDriver()
	analysis, err := Detect(context.Background(), db, driver, defaultCatalog(t))
	if err != nil {
		t.Fatalf("Failed to detect: %v", err)
	}
	analysis.Models = append(analysis.Models, "x') OR 1=1 --")

	if _, err := NewPlanner(defaultCatalog(t), driver).Plan(analysis); err == nil {
		t.Error("Expected literal validation error")
	}
}

func TestPlan_Empty(t *testing.T) {
	plan, err := NewPlanner(defaultCatalog(t), postgres.NewDriver()).Plan(&Analysis{Schema: abSchema()})
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}
	if len(plan.Steps) != 0 {
		t.Errorf("Expected no steps, got %d", len(plan.Steps))
	}
}

func TestDetect(t *testing.T) {
	db := testutil.OpenSQLite(t, "staging")
	testutil.SeedStaging(t, db)

	analysis, err := Detect(context.Background(), db, sqlite.NewDriver(), defaultCatalog(t))
	if err != nil {
		t.Fatalf("Failed to detect: %v", err)
	}

	if want := []string{"helpdesk", "web_studio"}; !reflect.DeepEqual(analysis.Modules, want) {
		t.Errorf("Modules = %v, want %v", analysis.Modules, want)
	}
	if want := []string{"helpdesk_team", "helpdesk_ticket"}; !reflect.DeepEqual(analysis.Tables, want) {
		t.Errorf("Tables = %v, want %v", analysis.Tables, want)
	}
	if want := []string{"helpdesk.team", "helpdesk.ticket"}; !reflect.DeepEqual(analysis.Models, want) {
		t.Errorf("Models = %v, want %v", analysis.Models, want)
	}
	if len(analysis.RegistryTables) != 9 {
		t.Errorf("Expected all 9 registry tables, got %v", analysis.RegistryTables)
	}
}

func TestDetectAndPlan_SQLite(t *testing.T) {
	db := testutil.OpenSQLite(t, "staging")
	testutil.SeedStaging(t, db)

	driver := sqlite.NewDriver()
	cat := defaultCatalog(t)
	analysis, err := Detect(context.Background(), db, driver, cat)
	if err != nil {
		t.Fatalf("Failed to detect: %v", err)
	}
	plan, err := NewPlanner(cat, driver).Plan(analysis)
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}

	want := []string{
		"deactivate_crons",
		"deactivate_automations",
		"uninstall_modules",
		"delete_module_dependencies",
		"delete_ui_views",
		"delete_menus",
		"delete_actions",
		"drop_foreign_keys:res_partner",
		"drop_table:helpdesk_ticket",
		"drop_table:helpdesk_team",
		"delete_model_data",
		"delete_models",
		"analyze",
	}
	var got []string
	for _, s := range plan.Steps {
		got = append(got, s.Name)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Step order:\n got  %v\n want %v", got, want)
	}

	if plan.Dialect != database.DialectSQLite {
		t.Errorf("Expected sqlite dialect, got %s", plan.Dialect)
	}
	uninstall := plan.Steps[2].Statement
	expected := `UPDATE "ir_module_module" SET "state" = 'uninstalled' WHERE "name" IN ('helpdesk', 'web_studio')`
	if uninstall != expected {
		t.Errorf("Unexpected uninstall statement:\n got  %s\n want %s", uninstall, expected)
	}
}
