// Package catalog loads the classification table that tells the engine which
// modules, tables and models exist only in the superset schema, how the
// metadata registry is laid out, and which source tables each module exports.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/lockplane/downshift/database"
)

//go:embed default.toml
var defaultCatalog []byte

// TableSpec is one table of an export module with its stable sort key.
type TableSpec struct {
	Table   string `toml:"table" json:"table"`
	SortKey string `toml:"sort_key" json:"sort_key"`
}

// ExportModule maps a module name to its ordered tables.
type ExportModule struct {
	Name   string      `toml:"name" json:"name"`
	Tables []TableSpec `toml:"tables" json:"tables"`
}

// ModuleRegistry describes the installed-module table.
type ModuleRegistry struct {
	Table            string   `toml:"table"`
	IDColumn         string   `toml:"id_column"`
	NameColumn       string   `toml:"name_column"`
	StateColumn      string   `toml:"state_column"`
	ActiveStates     []string `toml:"active_states"`
	UninstalledState string   `toml:"uninstalled_state"`
}

// DependencyRegistry describes module dependency records.
type DependencyRegistry struct {
	Table          string `toml:"table"`
	ModuleIDColumn string `toml:"module_id_column"`
	NameColumn     string `toml:"name_column"`
}

// ModelRegistry describes the model registry table.
type ModelRegistry struct {
	Table      string `toml:"table"`
	IDColumn   string `toml:"id_column"`
	NameColumn string `toml:"name_column"`
}

// ModelDataRegistry describes external-ID bookkeeping rows.
type ModelDataRegistry struct {
	Table        string `toml:"table"`
	ModuleColumn string `toml:"module_column"`
	ModelColumn  string `toml:"model_column"`
}

// ActivatableRegistry describes scheduled jobs and automations: rows that can
// be switched off and point at a model by id.
type ActivatableRegistry struct {
	Table         string `toml:"table"`
	ActiveColumn  string `toml:"active_column"`
	ModelIDColumn string `toml:"model_id_column"`
}

// ViewRegistry describes UI views and customizations.
type ViewRegistry struct {
	Table       string `toml:"table"`
	ModelColumn string `toml:"model_column"`
	KeyColumn   string `toml:"key_column"`
}

// ActionRegistry describes action definitions bound to a model.
type ActionRegistry struct {
	Table       string `toml:"table"`
	IDColumn    string `toml:"id_column"`
	ModelColumn string `toml:"model_column"`
}

// MenuRegistry describes menu entries pointing at actions.
type MenuRegistry struct {
	Table        string `toml:"table"`
	ActionColumn string `toml:"action_column"`
}

// Registry is the metadata layout of the application database.
type Registry struct {
	Modules      ModuleRegistry      `toml:"modules"`
	Dependencies DependencyRegistry  `toml:"dependencies"`
	Models       ModelRegistry       `toml:"models"`
	ModelData    ModelDataRegistry   `toml:"model_data"`
	Crons        ActivatableRegistry `toml:"crons"`
	Automations  ActivatableRegistry `toml:"automations"`
	Views        ViewRegistry        `toml:"views"`
	Actions      ActionRegistry      `toml:"actions"`
	Menus        MenuRegistry        `toml:"menus"`
}

// Catalog is the injectable classification table.
type Catalog struct {
	SupersetModules        []string       `toml:"superset_modules"`
	SupersetTables         []string       `toml:"superset_tables"`
	SupersetTablePrefixes  []string       `toml:"superset_table_prefixes"`
	SupersetModels         []string       `toml:"superset_models"`
	UIAssetPrefixes        []string       `toml:"ui_asset_prefixes"`
	CriticalColumnPatterns []string       `toml:"critical_column_patterns"`
	Registry               Registry       `toml:"registry"`
	ExportModules          []ExportModule `toml:"export_modules"`

	Path string `toml:"-"`

	critical []*regexp.Regexp
	modules  map[string]struct{}
	tables   map[string]struct{}
	models   map[string]struct{}
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Parse decodes and validates catalog TOML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) init() error {
	for _, group := range [][]string{c.SupersetModules, c.SupersetModels, c.UIAssetPrefixes} {
		for _, v := range group {
			if err := database.ValidateLiteral(v); err != nil {
				return err
			}
		}
	}
	for _, group := range [][]string{c.SupersetTables, c.SupersetTablePrefixes} {
		for _, v := range group {
			if err := database.ValidateIdentifier(v); err != nil {
				return err
			}
		}
	}

	for _, p := range c.CriticalColumnPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid critical column pattern %q: %w", p, err)
		}
		c.critical = append(c.critical, re)
	}

	if err := c.Registry.validate(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, m := range c.ExportModules {
		if err := database.ValidateLiteral(m.Name); err != nil {
			return err
		}
		if seen[m.Name] {
			return fmt.Errorf("export module %q is defined twice", m.Name)
		}
		seen[m.Name] = true
		for _, t := range m.Tables {
			if err := database.ValidateIdentifier(t.Table); err != nil {
				return fmt.Errorf("export module %s: %w", m.Name, err)
			}
			if err := database.ValidateIdentifier(t.SortKey); err != nil {
				return fmt.Errorf("export module %s, table %s: sort key: %w", m.Name, t.Table, err)
			}
		}
	}

	c.modules = toSet(c.SupersetModules)
	c.tables = toSet(c.SupersetTables)
	c.models = toSet(c.SupersetModels)
	return nil
}

func (r Registry) validate() error {
	idents := []string{
		r.Modules.Table, r.Modules.IDColumn, r.Modules.NameColumn, r.Modules.StateColumn,
		r.Dependencies.Table, r.Dependencies.ModuleIDColumn, r.Dependencies.NameColumn,
		r.Models.Table, r.Models.IDColumn, r.Models.NameColumn,
		r.ModelData.Table, r.ModelData.ModuleColumn, r.ModelData.ModelColumn,
		r.Crons.Table, r.Crons.ActiveColumn, r.Crons.ModelIDColumn,
		r.Automations.Table, r.Automations.ActiveColumn, r.Automations.ModelIDColumn,
		r.Views.Table, r.Views.ModelColumn, r.Views.KeyColumn,
		r.Actions.Table, r.Actions.IDColumn, r.Actions.ModelColumn,
		r.Menus.Table, r.Menus.ActionColumn,
	}
	for _, id := range idents {
		if err := database.ValidateIdentifier(id); err != nil {
			return fmt.Errorf("registry: %w", err)
		}
	}
	for _, s := range append(append([]string{}, r.Modules.ActiveStates...), r.Modules.UninstalledState) {
		if err := database.ValidateLiteral(s); err != nil {
			return fmt.Errorf("registry: %w", err)
		}
	}
	return nil
}

// IsSupersetModule reports whether name is a superset-only module.
func (c *Catalog) IsSupersetModule(name string) bool {
	_, ok := c.modules[name]
	return ok
}

// IsSupersetModel reports whether name is a superset-only model.
func (c *Catalog) IsSupersetModel(name string) bool {
	_, ok := c.models[name]
	return ok
}

// IsSupersetTable reports whether name is listed or carries a superset prefix.
func (c *Catalog) IsSupersetTable(name string) bool {
	if _, ok := c.tables[name]; ok {
		return true
	}
	for _, p := range c.SupersetTablePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// IsCriticalColumn applies the business-criticality name patterns.
func (c *Catalog) IsCriticalColumn(name string) bool {
	for _, re := range c.critical {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// ExportModule returns the export definition for a module.
func (c *Catalog) ExportModule(name string) (ExportModule, bool) {
	for _, m := range c.ExportModules {
		if m.Name == name {
			return m, true
		}
	}
	return ExportModule{}, false
}

// RegistryTables returns every table named by the registry layout.
func (c *Catalog) RegistryTables() []string {
	r := c.Registry
	names := toSet([]string{
		r.Modules.Table, r.Dependencies.Table, r.Models.Table, r.ModelData.Table,
		r.Crons.Table, r.Automations.Table, r.Views.Table, r.Actions.Table, r.Menus.Table,
	})
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
