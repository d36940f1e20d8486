package sqlite

import (
	"fmt"
	"strings"

	"github.com/lockplane/downshift/database"
)

// RebuildWithoutForeignKeys recreates table without the foreign keys in drop,
// the usual SQLite pattern since ALTER TABLE cannot drop a constraint. The
// statements run as one script: create a copy from the stored definition with
// only the dropped REFERENCES clauses removed, move the rows, drop the
// original, rename the copy into place and replay the table's indexes and
// triggers.
func (g *Generator) RebuildWithoutForeignKeys(table database.Table, drop []database.ForeignKey) (string, string) {
	referenced := make(map[string]bool, len(drop))
	names := make([]string, 0, len(drop))
	for _, fk := range drop {
		referenced[strings.ToLower(fk.ReferencedTable)] = true
		names = append(names, fk.Name)
	}

	tmp := g.QuoteIdentifier(table.Name + "__rebuild")
	create, ok := stripForeignKeys(table.Definition, tmp, referenced)
	if !ok {
		create = g.generatedDefinition(table, tmp, referenced)
	}

	cols := g.quoteList(table.ColumnNames())
	stmts := []string{
		create,
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", tmp, cols, cols, g.QuoteIdentifier(table.Name)),
		fmt.Sprintf("DROP TABLE %s", g.QuoteIdentifier(table.Name)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tmp, g.QuoteIdentifier(table.Name)),
	}
	stmts = append(stmts, table.Dependents...)

	description := fmt.Sprintf("Rebuild table %s without foreign keys %s", table.Name, strings.Join(names, ", "))
	return strings.Join(stmts, ";\n") + ";", description
}

// generatedDefinition builds a CREATE TABLE from the introspected columns, for
// tables whose stored definition is unknown. Column constraints other than
// the primary key, NOT NULL and DEFAULT are not reproduced.
func (g *Generator) generatedDefinition(table database.Table, name string, referenced map[string]bool) string {
	var defs, pk []string
	for _, col := range table.Columns {
		if col.IsPrimaryKey {
			pk = append(pk, g.QuoteIdentifier(col.Name))
		}
	}
	for _, col := range table.Columns {
		def := g.QuoteIdentifier(col.Name)
		if col.Type != "" {
			def += " " + col.Type
		}
		if col.IsPrimaryKey && len(pk) == 1 {
			def += " PRIMARY KEY"
		}
		if !col.Nullable {
			def += " NOT NULL"
		}
		if col.Default != nil {
			def += " DEFAULT " + *col.Default
		}
		defs = append(defs, def)
	}
	if len(pk) > 1 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pk, ", ")))
	}
	for _, fk := range table.ForeignKeys {
		if referenced[strings.ToLower(fk.ReferencedTable)] {
			continue
		}
		def := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s", g.quoteList(fk.Columns), g.QuoteIdentifier(fk.ReferencedTable))
		if len(fk.ReferencedColumns) > 0 {
			def += fmt.Sprintf(" (%s)", g.quoteList(fk.ReferencedColumns))
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", "))
}

func (g *Generator) quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = g.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

// stripForeignKeys rewrites a stored CREATE TABLE statement under a new name,
// removing table-level FOREIGN KEY constraints and column-level REFERENCES
// clauses that point at one of the referenced tables. Everything else is kept
// verbatim. ok is false when definition is not a parenthesised CREATE TABLE.
func stripForeignKeys(definition, name string, referenced map[string]bool) (string, bool) {
	toks := tokenize(definition)
	open := -1
	for i, t := range toks {
		if t.text == "(" {
			open = i
			break
		}
		if strings.EqualFold(t.text, "AS") {
			return "", false
		}
	}
	if open < 0 {
		return "", false
	}
	closing := matchParen(toks, open)
	if closing < 0 {
		return "", false
	}

	var items []string
	start := toks[open].end
	depth := 0
	for i := open + 1; i <= closing; i++ {
		switch toks[i].text {
		case "(":
			depth++
		case ")":
			if i < closing {
				depth--
				continue
			}
			items = append(items, definition[start:toks[i].start])
		case ",":
			if depth == 0 {
				items = append(items, definition[start:toks[i].start])
				start = toks[i].end
			}
		}
	}

	kept := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if rewritten, keep := stripItem(item, referenced); keep {
			kept = append(kept, rewritten)
		}
	}
	tail := definition[toks[closing].end:]
	return fmt.Sprintf("CREATE TABLE %s (%s)%s", name, strings.Join(kept, ", "), tail), true
}

// stripItem handles one column definition or table constraint. keep is false
// when the whole item is a dropped table-level foreign key.
func stripItem(item string, referenced map[string]bool) (string, bool) {
	toks := tokenize(item)
	if len(toks) == 0 {
		return item, true
	}
	kind := 0
	if strings.EqualFold(toks[0].text, "CONSTRAINT") && len(toks) > 2 {
		kind = 2
	}
	if strings.EqualFold(toks[kind].text, "FOREIGN") {
		for i, t := range toks {
			if strings.EqualFold(t.text, "REFERENCES") && i+1 < len(toks) {
				return item, !referenced[strings.ToLower(unquote(toks[i+1].text))]
			}
		}
		return item, true
	}
	switch strings.ToUpper(toks[kind].text) {
	case "PRIMARY", "UNIQUE", "CHECK":
		return item, true
	}

	// Column definition: cut each REFERENCES clause naming a dropped table.
	type span struct{ from, to int }
	var cuts []span
	depth := 0
	for i := 0; i < len(toks); i++ {
		switch toks[i].text {
		case "(":
			depth++
			continue
		case ")":
			depth--
			continue
		}
		if depth != 0 || !strings.EqualFold(toks[i].text, "REFERENCES") || i+1 >= len(toks) {
			continue
		}
		from := i
		if i >= 2 && strings.EqualFold(toks[i-2].text, "CONSTRAINT") {
			from = i - 2
		}
		end := referencesEnd(toks, i)
		if referenced[strings.ToLower(unquote(toks[i+1].text))] {
			cuts = append(cuts, span{toks[from].start, toks[end-1].end})
		}
		i = end - 1
	}
	for i := len(cuts) - 1; i >= 0; i-- {
		item = strings.TrimRight(item[:cuts[i].from], " \t\r\n") + item[cuts[i].to:]
	}
	return item, true
}

// referencesEnd returns the index after the foreign key clause that starts
// with the REFERENCES token at i.
func referencesEnd(toks []token, i int) int {
	j := i + 2
	if j < len(toks) && toks[j].text == "(" {
		if m := matchParen(toks, j); m >= 0 {
			j = m + 1
		}
	}
	word := func(k int) string {
		if k < len(toks) {
			return strings.ToUpper(toks[k].text)
		}
		return ""
	}
	for j < len(toks) {
		switch word(j) {
		case "ON":
			switch word(j + 2) {
			case "SET", "NO":
				j += 4
			default:
				j += 3
			}
		case "MATCH":
			j += 2
		case "NOT":
			if word(j+1) != "DEFERRABLE" {
				return j
			}
			j += 2
		case "DEFERRABLE":
			j++
		case "INITIALLY":
			j += 2
		default:
			return j
		}
	}
	if j > len(toks) {
		j = len(toks)
	}
	return j
}

type token struct {
	text       string
	start, end int
}

// tokenize splits SQL into words, quoted names, string literals and the
// punctuation ( ) , with byte offsets. Comments and whitespace are dropped.
func tokenize(s string) []token {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				i = len(s)
			} else {
				i += end + 4
			}
		case c == '(' || c == ')' || c == ',':
			toks = append(toks, token{s[i : i+1], i, i + 1})
			i++
		case c == '"' || c == '\'' || c == '`' || c == '[':
			closeCh := c
			if c == '[' {
				closeCh = ']'
			}
			j := i + 1
			for j < len(s) {
				if s[j] == closeCh {
					if closeCh != ']' && j+1 < len(s) && s[j+1] == closeCh {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j < len(s) {
				j++
			}
			toks = append(toks, token{s[i:j], i, j})
			i = j
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\r\n(),\"'`[", rune(s[j])) {
				j++
			}
			toks = append(toks, token{s[i:j], i, j})
			i = j
		}
	}
	return toks
}

func matchParen(toks []token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch toks[i].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func unquote(name string) string {
	if len(name) >= 2 {
		switch name[0] {
		case '"', '`':
			q := string(name[0])
			return strings.ReplaceAll(name[1:len(name)-1], q+q, q)
		case '[':
			return name[1 : len(name)-1]
		}
	}
	return name
}
