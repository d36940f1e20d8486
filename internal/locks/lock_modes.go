// Package locks describes the PostgreSQL table locks taken by planned
// migration steps.
package locks

import "fmt"

// LockMode represents PostgreSQL lock modes
// See: https://www.postgresql.org/docs/current/explicit-locking.html
type LockMode int

const (
	// LockNone means the step sends nothing to the server.
	LockNone LockMode = iota

	// LockAccessShare - Acquired by SELECT queries
	// Conflicts only with ACCESS EXCLUSIVE
	LockAccessShare

	// LockRowExclusive - Acquired by INSERT, UPDATE, DELETE
	// Conflicts with SHARE, SHARE ROW EXCLUSIVE, EXCLUSIVE, ACCESS EXCLUSIVE
	LockRowExclusive

	// LockShareUpdateExclusive - Acquired by VACUUM, ANALYZE
	// Allows concurrent reads and writes
	LockShareUpdateExclusive

	// LockShare - Acquired by CREATE INDEX (non-concurrent)
	// Blocks writes but allows reads
	LockShare

	// LockShareRowExclusive - Acquired on the referenced table when a
	// foreign key is added or dropped
	LockShareRowExclusive

	// LockAccessExclusive - Acquired by most DDL (ALTER TABLE, DROP TABLE, etc.)
	// Conflicts with everything
	LockAccessExclusive
)

// String returns the human-readable name of the lock mode
func (l LockMode) String() string {
	switch l {
	case LockNone:
		return "NONE"
	case LockAccessShare:
		return "ACCESS SHARE"
	case LockRowExclusive:
		return "ROW EXCLUSIVE"
	case LockShareUpdateExclusive:
		return "SHARE UPDATE EXCLUSIVE"
	case LockShare:
		return "SHARE"
	case LockShareRowExclusive:
		return "SHARE ROW EXCLUSIVE"
	case LockAccessExclusive:
		return "ACCESS EXCLUSIVE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// MarshalText renders the lock mode by name in JSON and logs.
func (l LockMode) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// BlocksReads returns true if this lock mode blocks SELECT queries
func (l LockMode) BlocksReads() bool {
	return l == LockAccessExclusive
}

// BlocksWrites returns true if this lock mode blocks INSERT/UPDATE/DELETE
func (l LockMode) BlocksWrites() bool {
	return l >= LockShare
}

// ImpactLevel returns a simple categorization of the lock's impact
func (l LockMode) ImpactLevel() ImpactLevel {
	switch l {
	case LockNone, LockAccessShare, LockRowExclusive:
		return ImpactNone
	case LockShareUpdateExclusive:
		return ImpactLow
	case LockShare:
		return ImpactMedium
	default:
		return ImpactHigh
	}
}

// ImpactLevel categorizes the severity of lock impact
type ImpactLevel int

const (
	ImpactNone   ImpactLevel = iota // Normal operations, no blocking
	ImpactLow                       // Minimal blocking
	ImpactMedium                    // Blocks writes, allows reads
	ImpactHigh                      // Blocks everything
)

// String returns the human-readable impact level
func (i ImpactLevel) String() string {
	switch i {
	case ImpactNone:
		return "NONE"
	case ImpactLow:
		return "LOW"
	case ImpactMedium:
		return "MEDIUM"
	case ImpactHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the impact level by name.
func (i ImpactLevel) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}
