package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/internal/testutil"
)

func TestGenerator_RebuildWithoutForeignKeys(t *testing.T) {
	db := testutil.OpenSQLite(t, "rebuild")
	testutil.Exec(t, db,
		`CREATE TABLE team (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE owner (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE partner (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT 'unknown' CHECK (length(name) > 0),
			email TEXT UNIQUE,
			team_id INTEGER CONSTRAINT partner_team REFERENCES team(id) ON DELETE SET NULL,
			owner_id INTEGER,
			FOREIGN KEY (owner_id) REFERENCES owner (id),
			FOREIGN KEY (team_id) REFERENCES "team" (id)
		)`,
		`CREATE INDEX partner_name_idx ON partner (name)`,
		`CREATE TABLE audit (partner_id INTEGER)`,
		`CREATE TRIGGER partner_audit AFTER INSERT ON partner BEGIN
			INSERT INTO audit (partner_id) VALUES (NEW.id);
		END`,
		`INSERT INTO team (id, name) VALUES (1, 'Support')`,
		`INSERT INTO owner (id) VALUES (7)`,
		`INSERT INTO partner (id, name, email, team_id, owner_id) VALUES (1, 'Acme', 'a@acme.test', 1, 7), (2, 'Globex', NULL, NULL, NULL)`,
	)

	ctx := context.Background()
	intro := NewIntrospector()
	schema, err := intro.IntrospectSchema(ctx, db)
	require.NoError(t, err)
	partner, ok := schema.Table("partner")
	require.True(t, ok)
	require.Len(t, partner.ForeignKeys, 3)
	assert.Contains(t, partner.Definition, "AUTOINCREMENT")
	assert.Len(t, partner.Dependents, 2)

	var toTeam []database.ForeignKey
	for _, fk := range partner.ForeignKeys {
		if fk.ReferencedTable == "team" {
			toTeam = append(toTeam, fk)
		}
	}
	require.Len(t, toTeam, 2)

	script, desc := NewGenerator().RebuildWithoutForeignKeys(*partner, toTeam)
	assert.Contains(t, desc, "partner")
	_, err = db.Exec(script)
	require.NoError(t, err)

	fks, err := intro.GetForeignKeys(ctx, db, "partner")
	require.NoError(t, err)
	require.Len(t, fks, 1)
	assert.Equal(t, "owner", fks[0].ReferencedTable)

	assert.Equal(t, int64(2), testutil.Count(t, db, "FROM partner"))
	assert.Equal(t, int64(1), testutil.Count(t, db, "FROM partner WHERE team_id = 1 AND name = 'Acme'"))

	cols, err := intro.GetColumns(ctx, db, "partner")
	require.NoError(t, err)
	require.Len(t, cols, 5)
	assert.True(t, cols[0].IsPrimaryKey)
	assert.False(t, cols[1].Nullable)
	require.NotNil(t, cols[1].Default)
	assert.Equal(t, "'unknown'", *cols[1].Default)

	// Everything but the dropped constraints survives the rebuild.
	assert.Equal(t, int64(1), testutil.Count(t, db, "FROM sqlite_master WHERE type = 'table' AND name = 'partner' AND sql LIKE '%AUTOINCREMENT%'"))
	assert.Equal(t, int64(1), testutil.Count(t, db, "FROM sqlite_master WHERE type = 'index' AND name = 'partner_name_idx'"))
	assert.Equal(t, int64(1), testutil.Count(t, db, "FROM sqlite_master WHERE type = 'trigger' AND name = 'partner_audit'"))
	_, err = db.Exec(`INSERT INTO partner (id, name) VALUES (3, '')`)
	assert.Error(t, err, "CHECK constraint kept")
	_, err = db.Exec(`INSERT INTO partner (id, name, email) VALUES (3, 'Initech', 'a@acme.test')`)
	assert.Error(t, err, "UNIQUE constraint kept")
	_, err = db.Exec(`INSERT INTO partner (id, name) VALUES (3, 'Initech')`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), testutil.Count(t, db, "FROM audit WHERE partner_id = 3"))
}

func TestStripForeignKeys(t *testing.T) {
	definition := `CREATE TABLE "p" (
		id INTEGER PRIMARY KEY,
		a INTEGER REFERENCES t(id) ON DELETE CASCADE NOT NULL,
		b INTEGER CONSTRAINT fk_b REFERENCES u (id) DEFERRABLE INITIALLY DEFERRED,
		note TEXT DEFAULT 'x, REFERENCES t',
		FOREIGN KEY (a) REFERENCES [t](id)
	) WITHOUT ROWID`

	got, ok := stripForeignKeys(definition, `"p__rebuild"`, map[string]bool{"t": true})
	require.True(t, ok)
	assert.Equal(t, `CREATE TABLE "p__rebuild" (id INTEGER PRIMARY KEY, a INTEGER NOT NULL, `+
		`b INTEGER CONSTRAINT fk_b REFERENCES u (id) DEFERRABLE INITIALLY DEFERRED, `+
		`note TEXT DEFAULT 'x, REFERENCES t') WITHOUT ROWID`, got)

	_, ok = stripForeignKeys(`CREATE TABLE p AS SELECT 1`, `"x"`, nil)
	assert.False(t, ok)
	_, ok = stripForeignKeys("", `"x"`, nil)
	assert.False(t, ok)
}

func TestRebuildWithoutDefinitionGeneratesColumns(t *testing.T) {
	table := database.Table{
		Name: "b",
		Columns: []database.Column{
			{Name: "id", Type: "INTEGER", IsPrimaryKey: true},
			{Name: "a_id", Type: "INTEGER", Nullable: true},
		},
		ForeignKeys: []database.ForeignKey{{Name: "fk_b_0", Table: "b", Columns: []string{"a_id"}, ReferencedTable: "a", ReferencedColumns: []string{"id"}}},
	}
	script, _ := NewGenerator().RebuildWithoutForeignKeys(table, table.ForeignKeys)
	assert.Contains(t, script, `CREATE TABLE "b__rebuild" ("id" INTEGER PRIMARY KEY NOT NULL, "a_id" INTEGER)`)
	assert.NotContains(t, script, "REFERENCES")
}
