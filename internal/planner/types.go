package planner

import "github.com/lockplane/downshift/database"

// Analysis is the planner input detected from the staging database.
type Analysis struct {
	// Modules are superset-only modules still in an active state.
	Modules []string `json:"modules"`
	// Tables are superset-only tables present in staging.
	Tables []string `json:"tables"`
	// Models are superset-only models still registered.
	Models []string `json:"models"`
	// RegistryTables are the metadata registry tables present in staging.
	RegistryTables []string `json:"registry_tables"`
	// Schema is the enumerated staging schema, including the foreign key graph.
	Schema *database.Schema `json:"schema"`
}

// Empty reports whether there is nothing left to remove.
func (a *Analysis) Empty() bool {
	return len(a.Modules) == 0 && len(a.Tables) == 0 && len(a.Models) == 0
}

// Step is one planned statement.
type Step struct {
	Number      int    `json:"number"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Statement   string `json:"statement"`
}

// Plan is an ordered list of steps for one staging database.
type Plan struct {
	InputHash string           `json:"input_hash"`
	Dialect   database.Dialect `json:"dialect"`
	Steps     []Step           `json:"steps"`
}
