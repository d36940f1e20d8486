// Package planner derives the ordered statements that remove superset-only
// modules, models and tables from a staging database.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/internal/catalog"
)

// Planner builds plans for one dialect and catalog.
type Planner struct {
	catalog *catalog.Catalog
	driver  database.Driver
}

// NewPlanner creates a planner.
func NewPlanner(cat *catalog.Catalog, driver database.Driver) *Planner {
	return &Planner{catalog: cat, driver: driver}
}

// Plan emits the steps in a fixed order:
//
//  1. deactivate scheduled jobs on superset models
//  2. deactivate automations on superset models
//  3. mark superset modules uninstalled
//  4. delete dependency records of those modules
//  5. delete UI views
//  6. delete menus, then actions
//  7. drop foreign keys referencing superset tables
//  8. drop superset tables
//  9. delete external-ID rows
//  10. delete model registry rows
//  11. refresh statistics
//
// Registry steps are only emitted when their table exists in staging. Output
// is identical for identical input.
func (p *Planner) Plan(a *Analysis) (*Plan, error) {
	if a == nil || a.Schema == nil {
		return nil, fmt.Errorf("analysis has no staging schema")
	}

	hash, err := InputHash(a)
	if err != nil {
		return nil, fmt.Errorf("failed to hash analysis: %w", err)
	}

	b := &builder{gen: p.driver, schema: a.Schema, present: make(map[string]bool)}
	for _, t := range a.RegistryTables {
		if _, ok := a.Schema.Table(t); ok {
			b.present[t] = true
		}
	}

	modules := sortedCopy(a.Modules)
	tables := sortedCopy(a.Tables)
	models := sortedCopy(a.Models)
	reg := p.catalog.Registry

	b.deactivate("deactivate_crons", "Deactivate scheduled jobs on superset models", reg.Crons, reg.Models, models)
	b.deactivate("deactivate_automations", "Deactivate automations on superset models", reg.Automations, reg.Models, models)

	if len(modules) > 0 && b.has(reg.Modules.Table) {
		b.add("uninstall_modules", "Mark superset modules uninstalled",
			"UPDATE %s SET %s = %s WHERE %s IN (%s)",
			b.table(reg.Modules.Table),
			b.col(reg.Modules.Table, reg.Modules.StateColumn),
			b.literal(reg.Modules.UninstalledState),
			b.col(reg.Modules.Table, reg.Modules.NameColumn),
			b.literals(modules))
	}

	if len(modules) > 0 && b.has(reg.Dependencies.Table) && b.has(reg.Modules.Table) {
		b.add("delete_module_dependencies", "Delete dependency records of uninstalled modules",
			"DELETE FROM %s WHERE %s IN (SELECT %s FROM %s WHERE %s IN (%s)) OR %s IN (%s)",
			b.table(reg.Dependencies.Table),
			b.col(reg.Dependencies.Table, reg.Dependencies.ModuleIDColumn),
			b.col(reg.Modules.Table, reg.Modules.IDColumn),
			b.table(reg.Modules.Table),
			b.col(reg.Modules.Table, reg.Modules.NameColumn),
			b.literals(modules),
			b.col(reg.Dependencies.Table, reg.Dependencies.NameColumn),
			b.literals(modules))
	}

	if b.has(reg.Views.Table) {
		var conds []string
		if len(models) > 0 {
			conds = append(conds, fmt.Sprintf("%s IN (%s)", b.col(reg.Views.Table, reg.Views.ModelColumn), b.literals(models)))
		}
		for _, prefix := range sortedCopy(p.catalog.UIAssetPrefixes) {
			conds = append(conds, fmt.Sprintf("substr(%s, 1, %d) = %s",
				b.col(reg.Views.Table, reg.Views.KeyColumn), len(prefix)+1, b.literal(prefix+".")))
		}
		if len(conds) > 0 {
			b.add("delete_ui_views", "Delete views and customizations of superset assets",
				"DELETE FROM %s WHERE %s", b.table(reg.Views.Table), strings.Join(conds, " OR "))
		}
	}

	if len(models) > 0 && b.has(reg.Actions.Table) {
		if b.has(reg.Menus.Table) {
			b.add("delete_menus", "Delete menu entries of superset actions",
				"DELETE FROM %s WHERE %s IN (SELECT %s FROM %s WHERE %s IN (%s))",
				b.table(reg.Menus.Table),
				b.col(reg.Menus.Table, reg.Menus.ActionColumn),
				b.col(reg.Actions.Table, reg.Actions.IDColumn),
				b.table(reg.Actions.Table),
				b.col(reg.Actions.Table, reg.Actions.ModelColumn),
				b.literals(models))
		}
		b.add("delete_actions", "Delete actions bound to superset models",
			"DELETE FROM %s WHERE %s IN (%s)",
			b.table(reg.Actions.Table),
			b.col(reg.Actions.Table, reg.Actions.ModelColumn),
			b.literals(models))
	}

	// Constraints go before any table drop.
	fks := referencingForeignKeys(a.Schema, tables)
	switch d := p.driver.(type) {
	case database.ForeignKeyRebuilder:
		b.rebuild(d, fks, toSet(tables))
	case database.ForeignKeyDropper:
		for _, fk := range fks {
			b.check(fk.Table)
			b.checkIdent(fk.Name)
			stmt, desc := d.DropForeignKey(fk)
			b.raw(fmt.Sprintf("drop_foreign_key:%s.%s", fk.Table, fk.Name), desc, stmt)
		}
	default:
		if len(fks) > 0 && b.err == nil {
			b.err = fmt.Errorf("dialect %s cannot drop foreign keys", p.driver.Dialect())
		}
	}

	for _, t := range dropOrder(a.Schema, tables) {
		b.check(t)
		stmt, desc := p.driver.DropTable(t)
		b.raw("drop_table:"+t, desc, stmt)
	}

	if b.has(reg.ModelData.Table) && (len(modules) > 0 || len(models) > 0) {
		var conds []string
		if len(modules) > 0 {
			conds = append(conds, fmt.Sprintf("%s IN (%s)", b.col(reg.ModelData.Table, reg.ModelData.ModuleColumn), b.literals(modules)))
		}
		if len(models) > 0 {
			conds = append(conds, fmt.Sprintf("%s IN (%s)", b.col(reg.ModelData.Table, reg.ModelData.ModelColumn), b.literals(models)))
		}
		b.add("delete_model_data", "Delete external-ID records of removed modules and models",
			"DELETE FROM %s WHERE %s", b.table(reg.ModelData.Table), strings.Join(conds, " OR "))
	}

	if len(models) > 0 && b.has(reg.Models.Table) {
		b.add("delete_models", "Delete model registry entries",
			"DELETE FROM %s WHERE %s IN (%s)",
			b.table(reg.Models.Table),
			b.col(reg.Models.Table, reg.Models.NameColumn),
			b.literals(models))
	}

	if len(b.steps) > 0 {
		stmt, desc := p.driver.Analyze()
		b.raw("analyze", desc, stmt)
	}

	if b.err != nil {
		return nil, fmt.Errorf("failed to plan migration: %w", b.err)
	}
	return &Plan{InputHash: hash, Dialect: p.driver.Dialect(), Steps: b.steps}, nil
}

// referencingForeignKeys returns every foreign key whose referenced table is
// one of tables, ordered by (table, constraint).
func referencingForeignKeys(schema *database.Schema, tables []string) []database.ForeignKey {
	dropping := toSet(tables)
	var fks []database.ForeignKey
	for _, t := range schema.Tables {
		for _, fk := range t.ForeignKeys {
			if dropping[fk.ReferencedTable] {
				if fk.Table == "" {
					fk.Table = t.Name
				}
				fks = append(fks, fk)
			}
		}
	}
	sort.Slice(fks, func(i, j int) bool {
		if fks[i].Table != fks[j].Table {
			return fks[i].Table < fks[j].Table
		}
		return fks[i].Name < fks[j].Name
	})
	return fks
}

// dropOrder orders tables so that a table referencing another is dropped
// first, breaking ties and cycles by name.
func dropOrder(schema *database.Schema, tables []string) []string {
	dropping := toSet(tables)
	// referencedBy[x] holds the dropped tables with a foreign key into x.
	referencedBy := make(map[string]map[string]bool)
	for _, t := range schema.Tables {
		if !dropping[t.Name] {
			continue
		}
		for _, fk := range t.ForeignKeys {
			if dropping[fk.ReferencedTable] && fk.ReferencedTable != t.Name {
				if referencedBy[fk.ReferencedTable] == nil {
					referencedBy[fk.ReferencedTable] = make(map[string]bool)
				}
				referencedBy[fk.ReferencedTable][t.Name] = true
			}
		}
	}

	remaining := sortedCopy(tables)
	done := make(map[string]bool, len(remaining))
	var order []string
	for len(remaining) > 0 {
		next := -1
		for i, t := range remaining {
			ready := true
			for dep := range referencedBy[t] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				next = i
				break
			}
		}
		if next < 0 {
			next = 0
		}
		done[remaining[next]] = true
		order = append(order, remaining[next])
		remaining = append(remaining[:next], remaining[next+1:]...)
	}
	return order
}

// builder accumulates steps and the first identifier error.
type builder struct {
	gen     database.SQLGenerator
	schema  *database.Schema
	present map[string]bool
	steps   []Step
	err     error
}

func (b *builder) has(table string) bool { return b.present[table] }

func (b *builder) check(table string, columns ...string) {
	if b.err == nil {
		b.err = b.schema.CheckColumns(table, columns...)
	}
}

func (b *builder) checkIdent(name string) {
	if b.err == nil {
		b.err = database.ValidateIdentifier(name)
	}
}

func (b *builder) table(name string) string {
	b.check(name)
	return b.gen.QuoteIdentifier(name)
}

func (b *builder) col(table, column string) string {
	b.check(table, column)
	return b.gen.QuoteIdentifier(column)
}

func (b *builder) literal(v string) string {
	if b.err == nil {
		b.err = database.ValidateLiteral(v)
	}
	return b.gen.QuoteLiteral(v)
}

func (b *builder) literals(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = b.literal(v)
	}
	return strings.Join(quoted, ", ")
}

func (b *builder) add(name, desc, format string, args ...any) {
	b.raw(name, desc, fmt.Sprintf(format, args...))
}

func (b *builder) raw(name, desc, stmt string) {
	b.steps = append(b.steps, Step{
		Number:      len(b.steps) + 1,
		Name:        name,
		Description: desc,
		Statement:   stmt,
	})
}

// rebuild emits one table rebuild per referencing table. Tables that are
// dropped anyway lose their constraints with the drop and are not rebuilt.
func (b *builder) rebuild(rb database.ForeignKeyRebuilder, fks []database.ForeignKey, dropping map[string]bool) {
	byTable := make(map[string][]database.ForeignKey)
	var order []string
	for _, fk := range fks {
		if dropping[fk.Table] {
			continue
		}
		if _, seen := byTable[fk.Table]; !seen {
			order = append(order, fk.Table)
		}
		byTable[fk.Table] = append(byTable[fk.Table], fk)
	}

	for _, name := range order {
		b.check(name)
		t, ok := b.schema.Table(name)
		if !ok {
			continue
		}
		for _, c := range t.ColumnNames() {
			b.checkIdent(c)
		}
		for _, fk := range t.ForeignKeys {
			b.checkIdent(fk.ReferencedTable)
			for _, c := range append(append([]string{}, fk.Columns...), fk.ReferencedColumns...) {
				b.checkIdent(c)
			}
		}
		stmt, desc := rb.RebuildWithoutForeignKeys(*t, byTable[name])
		b.raw("drop_foreign_keys:"+name, desc, stmt)
	}
}

// deactivate switches off rows of an activatable registry pointing at the
// given models through the model registry.
func (b *builder) deactivate(name, desc string, target catalog.ActivatableRegistry, models catalog.ModelRegistry, names []string) {
	if len(names) == 0 || !b.has(target.Table) || !b.has(models.Table) {
		return
	}
	b.add(name, desc,
		"UPDATE %s SET %s = FALSE WHERE %s IN (SELECT %s FROM %s WHERE %s IN (%s))",
		b.table(target.Table),
		b.col(target.Table, target.ActiveColumn),
		b.col(target.Table, target.ModelIDColumn),
		b.col(models.Table, models.IDColumn),
		b.table(models.Table),
		b.col(models.Table, models.NameColumn),
		b.literals(names))
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
