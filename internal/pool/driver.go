package pool

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lockplane/downshift/database"
	"github.com/lockplane/downshift/database/postgres"
	"github.com/lockplane/downshift/database/sqlite"
)

// DetectDriver returns the driver type for a connection string:
// "postgres", "libsql" or "sqlite".
func DetectDriver(connString string) string {
	lower := strings.ToLower(strings.TrimSpace(connString))

	switch {
	case strings.HasPrefix(lower, "postgres://"),
		strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return "postgres"
	case strings.HasPrefix(lower, "libsql://"),
		strings.HasPrefix(lower, "http://"),
		strings.HasPrefix(lower, "https://"):
		return "libsql"
	default:
		return "sqlite"
	}
}

// SQLDriverName maps a driver type to the database/sql driver name
func SQLDriverName(driverType string) string {
	switch driverType {
	case "postgres", "postgresql":
		return "postgres"
	case "libsql":
		return "libsql"
	default:
		return "sqlite"
	}
}

// NewDriver creates a database driver for the driver type.
// libSQL speaks the SQLite dialect.
func NewDriver(driverType string) (database.Driver, error) {
	switch driverType {
	case "postgres", "postgresql":
		return postgres.NewDriver(), nil
	case "sqlite", "sqlite3", "libsql":
		return sqlite.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driverType)
	}
}

// dataSourceName rewrites the connection string for the sql driver. Every
// new connection is bounded by timeout: connect_timeout for PostgreSQL and a
// busy timeout for SQLite files. Read-only settings are added when requested.
func dataSourceName(c Conn, driverType string, timeout time.Duration) (string, error) {
	switch driverType {
	case "postgres":
		seconds := strconv.Itoa(int(math.Ceil(math.Max(timeout.Seconds(), 1))))
		if !strings.Contains(c.URL, "://") {
			// key=value form: unknown keys are sent as runtime parameters
			dsn := c.URL
			if !strings.Contains(dsn, "connect_timeout=") {
				dsn += " connect_timeout=" + seconds
			}
			if c.ReadOnly {
				dsn += " default_transaction_read_only=on"
			}
			return dsn, nil
		}
		u, err := url.Parse(c.URL)
		if err != nil {
			return "", fmt.Errorf("invalid postgres url: %w", err)
		}
		q := u.Query()
		if q.Get("connect_timeout") == "" {
			q.Set("connect_timeout", seconds)
		}
		if c.ReadOnly {
			q.Set("default_transaction_read_only", "on")
		}
		u.RawQuery = q.Encode()
		return u.String(), nil

	case "libsql":
		return c.URL, nil

	default:
		path := strings.TrimPrefix(c.URL, "sqlite://")
		if path == ":memory:" {
			return path, nil
		}
		if !strings.HasPrefix(path, "file:") {
			path = "file:" + path
		}
		var params []string
		if c.ReadOnly {
			params = append(params, "mode=ro")
		}
		if !strings.Contains(path, "busy_timeout") {
			params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", timeout.Milliseconds()))
		}
		if len(params) == 0 {
			return path, nil
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
}
