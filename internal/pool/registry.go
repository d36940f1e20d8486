// Package pool keeps one connection pool per logical database role.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/lockplane/downshift/database"
)

// Logical connection identifiers used across the engine.
const (
	Source  = "source"
	Target  = "target"
	Staging = "staging"
	State   = "state"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("pool registry is closed")

// Conn describes one logical connection.
type Conn struct {
	// ID is the logical role, e.g. "source" or "staging"
	ID string
	// URL is the connection string
	URL string
	// ReadOnly asks the server (or SQLite) to refuse writes
	ReadOnly bool
}

// Options configures every pool created by a Registry.
type Options struct {
	ConnectTimeout  time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          logrus.FieldLogger
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  10 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

type entry struct {
	url    string
	db     *sql.DB
	driver database.Driver
}

// Registry owns one *sql.DB per logical connection ID. Pools are created on
// first use, reused for the lifetime of the registry and never shared between
// different URLs.
type Registry struct {
	mu     sync.Mutex
	opts   Options
	log    logrus.FieldLogger
	pools  map[string]*entry
	closed bool
}

// New creates a registry owned by the caller, who must Close it.
func New(opts Options) *Registry {
	defaults := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = defaults.MaxOpenConns
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = defaults.MaxIdleConns
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		opts:  opts,
		log:   log,
		pools: make(map[string]*entry),
	}
}

// Get returns the pool and dialect driver for c, opening and pinging it on
// first use. The ping is bounded by the connect timeout; failure is a
// *database.ConnectivityError.
func (r *Registry) Get(ctx context.Context, c Conn) (*sql.DB, database.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil, ErrClosed
	}
	if c.ID == "" {
		return nil, nil, errors.New("connection id is required")
	}

	if e, ok := r.pools[c.ID]; ok {
		if e.url != c.URL {
			return nil, nil, fmt.Errorf("connection %q is already bound to a different database", c.ID)
		}
		return e.db, e.driver, nil
	}

	driverType := DetectDriver(c.URL)
	driver, err := NewDriver(driverType)
	if err != nil {
		return nil, nil, err
	}
	dsn, err := dataSourceName(c, driverType, r.opts.ConnectTimeout)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(SQLDriverName(driverType), dsn)
	if err != nil {
		return nil, nil, &database.ConnectivityError{Target: c.ID, Err: err}
	}
	db.SetMaxOpenConns(r.opts.MaxOpenConns)
	db.SetMaxIdleConns(r.opts.MaxIdleConns)
	db.SetConnMaxLifetime(r.opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, r.opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, &database.ConnectivityError{Target: c.ID, Err: err}
	}

	r.pools[c.ID] = &entry{url: c.URL, db: db, driver: driver}
	r.log.WithFields(logrus.Fields{
		"connection": c.ID,
		"driver":     driverType,
		"read_only":  c.ReadOnly,
	}).Debug("opened connection pool")

	return db, driver, nil
}

// ConnectTimeout bounds every connection acquisition made through the
// registry's pools.
func (r *Registry) ConnectTimeout() time.Duration {
	return r.opts.ConnectTimeout
}

// IDs returns the logical IDs of the open pools.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close drains every pool. Errors from individual pools are aggregated.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var result *multierror.Error
	for id, e := range r.pools {
		if err := e.db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close %s: %w", id, err))
		}
		delete(r.pools, id)
	}
	return result.ErrorOrNil()
}
