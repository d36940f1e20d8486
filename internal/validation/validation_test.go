package validation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/downshift/database/sqlite"
	"github.com/lockplane/downshift/internal/catalog"
	"github.com/lockplane/downshift/internal/executor"
	"github.com/lockplane/downshift/internal/planner"
	"github.com/lockplane/downshift/internal/testutil"
)

type memoryRecorder struct {
	checks map[string]Check
}

func (m *memoryRecorder) RecordCheck(_ context.Context, jobID string, check *Check) error {
	if m.checks == nil {
		m.checks = map[string]Check{}
	}
	m.checks[jobID+"/"+check.Name] = *check
	return nil
}

func newValidator(t *testing.T, rec CheckRecorder) *Validator {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	return NewValidator(cat, sqlite.NewDriver(), rec, nil)
}

func statuses(r *Result) map[string]Status {
	out := make(map[string]Status, len(r.Checks))
	for _, c := range r.Checks {
		out[c.Name] = c.Status
	}
	return out
}

func TestValidate_BeforeMigration(t *testing.T) {
	db := testutil.OpenSQLite(t, "staging")
	testutil.SeedStaging(t, db)

	rec := &memoryRecorder{}
	result := newValidator(t, rec).Validate(context.Background(), "job-1", db)

	assert.Equal(t, StatusFail, result.Status)
	assert.Equal(t, map[string]Status{
		CheckModulesInactive: StatusFail,
		CheckTablesRemoved:   StatusFail,
		CheckDanglingFKs:     StatusFail,
		CheckModelsRemoved:   StatusFail,
		CheckUIAssetsRemoved: StatusWarning,
		CheckNoActiveJobs:    StatusFail,
		CheckCatalogHealth:   StatusPass,
	}, statuses(result))

	modules, ok := result.Check(CheckModulesInactive)
	require.True(t, ok)
	assert.Equal(t, []string{"helpdesk (installed)", "web_studio (to upgrade)"}, modules.OffendingRecords)

	tables, _ := result.Check(CheckTablesRemoved)
	assert.Equal(t, []string{"helpdesk_team", "helpdesk_ticket"}, tables.OffendingRecords)
	assert.Equal(t, 2, tables.OffendingCount)

	jobs, _ := result.Check(CheckNoActiveJobs)
	assert.Equal(t, []string{
		"base_automation model_id=3",
		"ir_cron model_id=2",
		"ir_cron model_id=3",
	}, jobs.OffendingRecords)

	assert.Len(t, rec.checks, 7)
	assert.Equal(t, StatusFail, rec.checks["job-1/"+CheckTablesRemoved].Status)
}

func TestValidate_AfterMigration(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenSQLite(t, "staging")
	testutil.SeedStaging(t, db)

	cat, err := catalog.Default()
	require.NoError(t, err)
	driver := sqlite.NewDriver()
	analysis, err := planner.Detect(ctx, db, driver, cat)
	require.NoError(t, err)
	plan, err := planner.NewPlanner(cat, driver).Plan(analysis)
	require.NoError(t, err)
	_, err = executor.NewExecutor(nil, nil).Execute(ctx, "job-1", db, plan, false)
	require.NoError(t, err)

	result := NewValidator(cat, driver, nil, nil).Validate(ctx, "job-1", db)
	for _, c := range result.Checks {
		assert.Equal(t, StatusPass, c.Status, "%s: %s %v", c.Name, c.Details, c.OffendingRecords)
	}
	assert.Equal(t, StatusPass, result.Status)
	assert.Len(t, result.Checks, 7)
}

func TestValidate_MissingRegistryIsWarning(t *testing.T) {
	db := testutil.OpenSQLite(t, "staging")
	testutil.Exec(t, db, `CREATE TABLE things (id INTEGER PRIMARY KEY)`)

	result := newValidator(t, nil).Validate(context.Background(), "job-1", db)

	assert.Equal(t, StatusWarning, result.Status)
	assert.Equal(t, map[string]Status{
		CheckModulesInactive: StatusWarning,
		CheckTablesRemoved:   StatusPass,
		CheckDanglingFKs:     StatusPass,
		CheckModelsRemoved:   StatusWarning,
		CheckUIAssetsRemoved: StatusWarning,
		CheckNoActiveJobs:    StatusWarning,
		CheckCatalogHealth:   StatusPass,
	}, statuses(result))
}

func TestValidate_OffendingRecordsAreCapped(t *testing.T) {
	db := testutil.OpenSQLite(t, "staging")
	for i := 0; i < 60; i++ {
		testutil.Exec(t, db, fmt.Sprintf(`CREATE TABLE helpdesk_extra_%02d (id INTEGER PRIMARY KEY)`, i))
	}

	rec := &memoryRecorder{}
	result := newValidator(t, rec).Validate(context.Background(), "job-1", db)

	tables, ok := result.Check(CheckTablesRemoved)
	require.True(t, ok)
	assert.Equal(t, StatusFail, tables.Status)
	assert.Equal(t, 60, tables.OffendingCount)
	require.Len(t, tables.OffendingRecords, maxOffendingReported)
	assert.Equal(t, "helpdesk_extra_00", tables.OffendingRecords[0])
	assert.Equal(t, "helpdesk_extra_49", tables.OffendingRecords[49])
	assert.Equal(t, "60 superset-only tables remain", tables.Details)
	assert.Equal(t, 60, rec.checks["job-1/"+CheckTablesRemoved].OffendingCount)
}

func TestValidate_EmptyDatabaseIsUnhealthy(t *testing.T) {
	db := testutil.OpenSQLite(t, "staging")

	result := newValidator(t, nil).Validate(context.Background(), "job-1", db)

	health, ok := result.Check(CheckCatalogHealth)
	require.True(t, ok)
	assert.Equal(t, StatusFail, health.Status)
	assert.Equal(t, StatusFail, result.Status)
}

func TestValidate_CheckErrorIsIsolated(t *testing.T) {
	db := testutil.OpenSQLite(t, "staging")
	// The module registry lacks its state column, so that check cannot run.
	testutil.Exec(t, db,
		`CREATE TABLE ir_module_module (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE helpdesk_ticket (id INTEGER PRIMARY KEY)`,
	)

	result := newValidator(t, nil).Validate(context.Background(), "job-1", db)

	modules, _ := result.Check(CheckModulesInactive)
	assert.Equal(t, StatusWarning, modules.Status)
	assert.Contains(t, modules.Details, "could not run")

	tables, _ := result.Check(CheckTablesRemoved)
	assert.Equal(t, StatusFail, tables.Status)
	assert.Equal(t, StatusFail, result.Status)
	assert.Len(t, result.Checks, 7)
}

func TestValidate_UnreachableStaging(t *testing.T) {
	db := testutil.OpenSQLite(t, "staging")
	require.NoError(t, db.Close())

	result := newValidator(t, nil).Validate(context.Background(), "job-1", db)

	assert.Equal(t, StatusWarning, result.Status)
	require.Len(t, result.Checks, 7)
	for _, c := range result.Checks {
		assert.Equal(t, StatusWarning, c.Status)
	}
}

func TestIsTrue(t *testing.T) {
	for _, s := range []string{"1", "true", "t", "TRUE"} {
		assert.True(t, isTrue(s), s)
	}
	for _, s := range []string{"0", "false", "f", ""} {
		assert.False(t, isTrue(s), s)
	}
}
