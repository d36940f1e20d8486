package planner

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/internal/catalog"
)

// Detect reads the staging database and derives the planner input: which
// superset-only modules, tables and models are still there.
func Detect(ctx context.Context, staging *sql.DB, driver database.Driver, cat *catalog.Catalog) (*Analysis, error) {
	schema, err := driver.IntrospectSchema(ctx, staging)
	if err != nil {
		return nil, &database.ConnectivityError{Target: "staging", Err: err}
	}

	a := &Analysis{
		Modules:        []string{},
		Tables:         []string{},
		Models:         []string{},
		RegistryTables: []string{},
		Schema:         schema,
	}

	for _, t := range schema.Tables {
		if cat.IsSupersetTable(t.Name) {
			a.Tables = append(a.Tables, t.Name)
		}
	}
	sort.Strings(a.Tables)

	for _, name := range cat.RegistryTables() {
		if _, ok := schema.Table(name); ok {
			a.RegistryTables = append(a.RegistryTables, name)
		}
	}

	reg := cat.Registry
	if _, ok := schema.Table(reg.Modules.Table); ok {
		rows, err := database.SelectText(ctx, staging, driver, schema, reg.Modules.Table, reg.Modules.NameColumn, reg.Modules.StateColumn)
		if err != nil {
			return nil, fmt.Errorf("failed to read module registry: %w", err)
		}
		active := make(map[string]bool, len(reg.Modules.ActiveStates))
		for _, s := range reg.Modules.ActiveStates {
			active[s] = true
		}
		for _, r := range rows {
			if cat.IsSupersetModule(r[0]) && active[r[1]] {
				a.Modules = append(a.Modules, r[0])
			}
		}
		a.Modules = dedupSorted(a.Modules)
	}

	if _, ok := schema.Table(reg.Models.Table); ok {
		rows, err := database.SelectText(ctx, staging, driver, schema, reg.Models.Table, reg.Models.NameColumn)
		if err != nil {
			return nil, fmt.Errorf("failed to read model registry: %w", err)
		}
		for _, r := range rows {
			if cat.IsSupersetModel(r[0]) {
				a.Models = append(a.Models, r[0])
			}
		}
		a.Models = dedupSorted(a.Models)
	}

	return a, nil
}

func dedupSorted(values []string) []string {
	sort.Strings(values)
	out := values[:0]
	for i, v := range values {
		if i == 0 || v != values[i-1] {
			out = append(out, v)
		}
	}
	return out
}
