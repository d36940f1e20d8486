package sqlite

import (
	"github.com/lockplane/downshift/database"
)

// Driver implements database.Driver for SQLite and libSQL
type Driver struct {
	*Introspector
	*Generator
}

// NewDriver creates a new SQLite driver
func NewDriver() *Driver {
	return &Driver{
		Introspector: NewIntrospector(),
		Generator:    NewGenerator(),
	}
}

// Name returns the database driver name
func (d *Driver) Name() string {
	return "sqlite"
}

// Dialect returns the SQLite dialect
func (d *Driver) Dialect() database.Dialect {
	return database.DialectSQLite
}

// Ensure Driver implements database.Driver
var _ database.Driver = (*Driver)(nil)

var _ database.ForeignKeyRebuilder = (*Generator)(nil)
