package database

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Dialect names a database/sql driver supported by the hosted storage variant
type Dialect string

const (
	// DialectSQLite is the embedded engine (github.com/mattn/go-sqlite3)
	DialectSQLite Dialect = "sqlite3"

	// DialectPostgres is PostgreSQL through the pgx stdlib driver
	DialectPostgres Dialect = "pgx"
)

// Config holds database configuration
// ARCHITECTURAL DISCOVERY: Configuration struct provides all database settings
// needed for production deployment without hardcoded values
type Config struct {
	Driver          Dialect       `json:"driver"`
	Path            string        `json:"path"`
	DSN             string        `json:"dsn"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	Timeout         time.Duration `json:"timeout"`
}

// DefaultConfig returns an embedded SQLite configuration
// FUNCTIONAL DISCOVERY: SQLite performs well with 10 connections for the
// handful of concurrent leaders and members a trip produces
func DefaultConfig() *Config {
	return &Config{
		Driver:          DialectSQLite,
		Path:            "./busbuddy.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		Timeout:         5 * time.Second,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	switch c.Driver {
	case DialectSQLite:
		if c.Path == "" {
			return errors.New("database path cannot be empty")
		}
	case DialectPostgres:
		if c.DSN == "" {
			return errors.New("database dsn cannot be empty for pgx driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.Timeout <= 0 {
		return errors.New("database timeout must be greater than 0")
	}
	return nil
}

// DataSourceName returns the string handed to sql.Open
func (c *Config) DataSourceName() string {
	if c.Driver == DialectPostgres {
		return c.DSN
	}
	// TECHNICAL DISCOVERY: Pragmas in the DSN apply to every pooled connection,
	// unlike PRAGMA statements which only reach the connection that ran them
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on&_synchronous=NORMAL",
		c.Path, c.Timeout.Milliseconds())
}

// Rebind rewrites '?' placeholders into the dialect's bind syntax
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
