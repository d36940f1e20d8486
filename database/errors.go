package database

import "fmt"

// ConnectivityError means a database could not be reached. It is fatal to the
// phase that hit it and is not retried.
type ConnectivityError struct {
	Target string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach database %q: %v", e.Target, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// SchemaProbeError means metadata or data probing of a single table failed.
// Callers record it against the table and carry on with the others.
type SchemaProbeError struct {
	Table string
	Op    string
	Err   error
}

func (e *SchemaProbeError) Error() string {
	return fmt.Sprintf("failed to %s for table %s: %v", e.Op, e.Table, e.Err)
}

func (e *SchemaProbeError) Unwrap() error { return e.Err }
