package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/lockplane/downshift/database"
)

// InputHash returns a hash of the canonical form of the analysis, so two plans
// built from the same input can be recognised.
func InputHash(a *Analysis) (string, error) {
	data, err := json.Marshal(canonicalize(a))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalize(a *Analysis) map[string]any {
	tables := []map[string]any{}
	if a.Schema != nil {
		sorted := make([]database.Table, len(a.Schema.Tables))
		copy(sorted, a.Schema.Tables)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

		for _, t := range sorted {
			cols := t.ColumnNames()
			sort.Strings(cols)

			fks := make([]string, 0, len(t.ForeignKeys))
			for _, fk := range t.ForeignKeys {
				fks = append(fks, fk.Name+"->"+fk.ReferencedTable)
			}
			sort.Strings(fks)

			tables = append(tables, map[string]any{
				"name":         t.Name,
				"columns":      cols,
				"foreign_keys": fks,
			})
		}
	}

	return map[string]any{
		"modules":         sortedCopy(a.Modules),
		"tables":          sortedCopy(a.Tables),
		"models":          sortedCopy(a.Models),
		"registry_tables": sortedCopy(a.RegistryTables),
		"schema":          tables,
	}
}

func sortedCopy(values []string) []string {
	out := append([]string{}, values...)
	sort.Strings(out)
	return out
}
