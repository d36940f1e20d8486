// Package validation runs the post-migration checks against staging.
package validation

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/internal/catalog"
)

// Status is the outcome of a check, or of a whole validation.
type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
)

func (s Status) rank() int {
	switch s {
	case StatusFail:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// Check names.
const (
	CheckModulesInactive = "superset_modules_inactive"
	CheckTablesRemoved   = "superset_tables_removed"
	CheckDanglingFKs     = "no_dangling_foreign_keys"
	CheckModelsRemoved   = "superset_models_unregistered"
	CheckUIAssetsRemoved = "superset_ui_assets_removed"
	CheckNoActiveJobs    = "no_active_jobs_on_removed_models"
	CheckCatalogHealth   = "catalog_health"
	maxOffendingReported = 50
)

// Check is the outcome of one check.
type Check struct {
	Name             string   `json:"name"`
	Category         string   `json:"category"`
	Status           Status   `json:"status"`
	Details          string   `json:"details"`
	OffendingRecords []string `json:"offending_records,omitempty"`
	// OffendingCount is the number of offending records found. Only the
	// first maxOffendingReported of them are kept in OffendingRecords.
	OffendingCount int `json:"offending_count"`
}

// Result aggregates every check. Status is the worst check status.
type Result struct {
	Status      Status    `json:"status"`
	Checks      []Check   `json:"checks"`
	ValidatedAt time.Time `json:"validated_at"`
}

// Check returns the named check.
func (r *Result) Check(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// CheckRecorder persists check outcomes.
type CheckRecorder interface {
	RecordCheck(ctx context.Context, jobID string, check *Check) error
}

// Validator runs the checks.
type Validator struct {
	catalog  *catalog.Catalog
	driver   database.Driver
	recorder CheckRecorder
	log      logrus.FieldLogger
}

// NewValidator creates a validator. recorder may be nil.
func NewValidator(cat *catalog.Catalog, driver database.Driver, recorder CheckRecorder, log logrus.FieldLogger) *Validator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Validator{catalog: cat, driver: driver, recorder: recorder, log: log}
}

// target is what every check reads.
type target struct {
	db     *sql.DB
	schema *database.Schema
}

type checker struct {
	name     string
	category string
	// onFailure is the status reported when offending records are found.
	onFailure Status
	run       func(ctx context.Context, t *target) (details string, offending []string, err error)
}

// Validate runs every check against staging. A check that cannot run, for
// example because its registry table is missing or its query failed, reports a
// warning and the remaining checks still run.
func (v *Validator) Validate(ctx context.Context, jobID string, staging *sql.DB) *Result {
	log := v.log.WithField("job_id", jobID)
	result := &Result{Status: StatusPass}

	t := &target{db: staging}
	schema, schemaErr := v.driver.IntrospectSchema(ctx, staging)
	if schemaErr == nil {
		t.schema = schema
	}

	for _, c := range v.checkers() {
		var check Check
		if schemaErr != nil {
			check = Check{
				Name:     c.name,
				Category: c.category,
				Status:   StatusWarning,
				Details:  fmt.Sprintf("could not read staging schema: %v", schemaErr),
			}
		} else {
			check = runCheck(ctx, c, t)
		}

		if check.Status.rank() > result.Status.rank() {
			result.Status = check.Status
		}
		result.Checks = append(result.Checks, check)

		log.WithFields(logrus.Fields{
			"check":  check.Name,
			"status": check.Status,
		}).Info(check.Details)

		if v.recorder != nil {
			if err := v.recorder.RecordCheck(ctx, jobID, &check); err != nil {
				log.WithError(err).WithField("check", check.Name).Warn("Failed to record validation check")
			}
		}
	}

	result.ValidatedAt = time.Now().UTC()
	return result
}

func runCheck(ctx context.Context, c checker, t *target) Check {
	check := Check{Name: c.name, Category: c.category}
	details, offending, err := c.run(ctx, t)
	switch {
	case err != nil:
		check.Status = StatusWarning
		check.Details = fmt.Sprintf("check could not run: %v", err)
	case len(offending) > 0:
		sort.Strings(offending)
		check.Status = c.onFailure
		check.Details = details
		check.OffendingCount = len(offending)
		if len(offending) > maxOffendingReported {
			offending = offending[:maxOffendingReported]
		}
		check.OffendingRecords = offending
	default:
		check.Status = StatusPass
		check.Details = details
	}
	return check
}

// errMissingRegistry marks a check whose registry table is absent.
type errMissingRegistry string

func (e errMissingRegistry) Error() string {
	return fmt.Sprintf("registry table %s not found", string(e))
}

func (v *Validator) checkers() []checker {
	reg := v.catalog.Registry
	return []checker{
		{
			name: CheckModulesInactive, category: "modules", onFailure: StatusFail,
			run: func(ctx context.Context, t *target) (string, []string, error) {
				if _, ok := t.schema.Table(reg.Modules.Table); !ok {
					return "", nil, errMissingRegistry(reg.Modules.Table)
				}
				rows, err := database.SelectText(ctx, t.db, v.driver, t.schema, reg.Modules.Table, reg.Modules.NameColumn, reg.Modules.StateColumn)
				if err != nil {
					return "", nil, err
				}
				active := toSet(reg.Modules.ActiveStates)
				var offending []string
				for _, r := range rows {
					if v.catalog.IsSupersetModule(r[0]) && active[r[1]] {
						offending = append(offending, fmt.Sprintf("%s (%s)", r[0], r[1]))
					}
				}
				if len(offending) > 0 {
					return fmt.Sprintf("%d superset-only modules are still active", len(offending)), offending, nil
				}
				return "no superset-only module is active", nil, nil
			},
		},
		{
			name: CheckTablesRemoved, category: "schema", onFailure: StatusFail,
			run: func(_ context.Context, t *target) (string, []string, error) {
				var offending []string
				for _, tbl := range t.schema.Tables {
					if v.catalog.IsSupersetTable(tbl.Name) {
						offending = append(offending, tbl.Name)
					}
				}
				if len(offending) > 0 {
					return fmt.Sprintf("%d superset-only tables remain", len(offending)), offending, nil
				}
				return "no superset-only table remains", nil, nil
			},
		},
		{
			name: CheckDanglingFKs, category: "schema", onFailure: StatusFail,
			run: func(_ context.Context, t *target) (string, []string, error) {
				var offending []string
				for _, tbl := range t.schema.Tables {
					for _, fk := range tbl.ForeignKeys {
						_, exists := t.schema.Table(fk.ReferencedTable)
						if !exists || v.catalog.IsSupersetTable(fk.ReferencedTable) {
							offending = append(offending, fmt.Sprintf("%s.%s -> %s", tbl.Name, fk.Name, fk.ReferencedTable))
						}
					}
				}
				if len(offending) > 0 {
					return fmt.Sprintf("%d foreign keys reference removed tables", len(offending)), offending, nil
				}
				return "every foreign key references an existing table", nil, nil
			},
		},
		{
			name: CheckModelsRemoved, category: "registry", onFailure: StatusFail,
			run: func(ctx context.Context, t *target) (string, []string, error) {
				if _, ok := t.schema.Table(reg.Models.Table); !ok {
					return "", nil, errMissingRegistry(reg.Models.Table)
				}
				rows, err := database.SelectText(ctx, t.db, v.driver, t.schema, reg.Models.Table, reg.Models.NameColumn)
				if err != nil {
					return "", nil, err
				}
				var offending []string
				for _, r := range rows {
					if v.catalog.IsSupersetModel(r[0]) {
						offending = append(offending, r[0])
					}
				}
				if len(offending) > 0 {
					return fmt.Sprintf("%d superset-only models are still registered", len(offending)), offending, nil
				}
				return "no superset-only model is registered", nil, nil
			},
		},
		{
			name: CheckUIAssetsRemoved, category: "ui", onFailure: StatusWarning,
			run: func(ctx context.Context, t *target) (string, []string, error) {
				if _, ok := t.schema.Table(reg.Views.Table); !ok {
					return "", nil, errMissingRegistry(reg.Views.Table)
				}
				rows, err := database.SelectText(ctx, t.db, v.driver, t.schema, reg.Views.Table, reg.Views.ModelColumn, reg.Views.KeyColumn)
				if err != nil {
					return "", nil, err
				}
				var offending []string
				for _, r := range rows {
					if v.catalog.IsSupersetModel(r[0]) || v.hasUIAssetPrefix(r[1]) {
						offending = append(offending, fmt.Sprintf("%s (%s)", r[1], r[0]))
					}
				}
				if len(offending) > 0 {
					return fmt.Sprintf("%d superset-specific views remain", len(offending)), offending, nil
				}
				return "no superset-specific view remains", nil, nil
			},
		},
		{
			name: CheckNoActiveJobs, category: "automation", onFailure: StatusFail,
			run: func(ctx context.Context, t *target) (string, []string, error) {
				if _, ok := t.schema.Table(reg.Models.Table); !ok {
					return "", nil, errMissingRegistry(reg.Models.Table)
				}
				models, err := database.SelectText(ctx, t.db, v.driver, t.schema, reg.Models.Table, reg.Models.IDColumn, reg.Models.NameColumn)
				if err != nil {
					return "", nil, err
				}
				kept := make(map[string]bool, len(models))
				for _, m := range models {
					if !v.catalog.IsSupersetModel(m[1]) {
						kept[m[0]] = true
					}
				}

				var offending []string
				checked := 0
				for _, jobs := range []catalog.ActivatableRegistry{reg.Crons, reg.Automations} {
					if _, ok := t.schema.Table(jobs.Table); !ok {
						continue
					}
					checked++
					rows, err := database.SelectText(ctx, t.db, v.driver, t.schema, jobs.Table, jobs.ActiveColumn, jobs.ModelIDColumn)
					if err != nil {
						return "", nil, err
					}
					for _, r := range rows {
						if r[1] == "" || !isTrue(r[0]) {
							continue
						}
						if !kept[r[1]] {
							offending = append(offending, fmt.Sprintf("%s %s=%s", jobs.Table, jobs.ModelIDColumn, r[1]))
						}
					}
				}
				if checked == 0 {
					return "", nil, errMissingRegistry(reg.Crons.Table)
				}
				if len(offending) > 0 {
					return fmt.Sprintf("%d active jobs target removed models", len(offending)), offending, nil
				}
				return "no active job targets a removed model", nil, nil
			},
		},
		{
			name: CheckCatalogHealth, category: "schema", onFailure: StatusFail,
			run: func(_ context.Context, t *target) (string, []string, error) {
				registry := toSet(v.catalog.RegistryTables())
				user := 0
				for _, tbl := range t.schema.Tables {
					if !registry[tbl.Name] {
						user++
					}
				}
				if user == 0 {
					return "staging has no user tables", []string{"no user tables"}, nil
				}
				return fmt.Sprintf("%d user tables present", user), nil, nil
			},
		},
	}
}

func (v *Validator) hasUIAssetPrefix(key string) bool {
	for _, p := range v.catalog.UIAssetPrefixes {
		if strings.HasPrefix(key, p+".") {
			return true
		}
	}
	return false
}

// isTrue reads a boolean rendered as text by either dialect.
func isTrue(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return s != "" && s != "0"
	}
	return b
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
