package database

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
)

func openMigrated(t *testing.T) *sql.DB {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open(string(DialectSQLite), cfg.DataSourceName())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := NewMigrationManager(db, DialectSQLite).ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return db
}

// Functional Validation Tests - Config

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Driver != DialectSQLite {
		t.Errorf("Expected driver sqlite3, got %s", config.Driver)
	}
	if config.Path != "./busbuddy.db" {
		t.Errorf("Expected Path './busbuddy.db', got %s", config.Path)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid sqlite", func(c *Config) {}, false},
		{"valid pgx", func(c *Config) { c.Driver = DialectPostgres; c.DSN = "postgres://localhost/busbuddy" }, false},
		{"empty sqlite path", func(c *Config) { c.Path = "" }, true},
		{"pgx without dsn", func(c *Config) { c.Driver = DialectPostgres }, true},
		{"unknown driver", func(c *Config) { c.Driver = "mysql" }, true},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }, true},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }, true},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_DataSourceName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = "/tmp/trip.db"
	dsn := cfg.DataSourceName()
	if !strings.HasPrefix(dsn, "file:/tmp/trip.db?") {
		t.Errorf("Unexpected sqlite dsn %q", dsn)
	}
	if !strings.Contains(dsn, "_foreign_keys=on") || !strings.Contains(dsn, "_busy_timeout=5000") {
		t.Errorf("sqlite dsn missing pragmas: %q", dsn)
	}

	cfg.Driver = DialectPostgres
	cfg.DSN = "postgres://u:p@db/busbuddy"
	if got := cfg.DataSourceName(); got != cfg.DSN {
		t.Errorf("Expected pgx dsn passed through, got %q", got)
	}
}

func TestDialect_Rebind(t *testing.T) {
	query := "SELECT * FROM members WHERE session_id = ? AND id = ?"

	if got := DialectSQLite.Rebind(query); got != query {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
	want := "SELECT * FROM members WHERE session_id = $1 AND id = $2"
	if got := DialectPostgres.Rebind(query); got != want {
		t.Errorf("pgx rebind = %q, want %q", got, want)
	}
}

// Functional Validation Tests - Migrations

func TestMigrations_EmbeddedPerDialect(t *testing.T) {
	for _, dialect := range []Dialect{DialectSQLite, DialectPostgres} {
		migrations, err := Migrations(dialect)
		if err != nil {
			t.Fatalf("Migrations(%s) error: %v", dialect, err)
		}
		files, err := fs.Glob(migrations, "*.sql")
		if err != nil || len(files) == 0 {
			t.Errorf("Expected embedded migrations for %s, got %v (%v)", dialect, files, err)
		}
	}

	if _, err := Migrations("mysql"); err == nil {
		t.Error("Expected error for unsupported dialect")
	}
}

func TestMigrationManager_ApplyIsIdempotent(t *testing.T) {
	db := openMigrated(t)

	if err := NewMigrationManager(db, DialectSQLite).ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("Second migration run should be a no-op: %v", err)
	}

	var version int64
	if err := db.QueryRow("SELECT MAX(version_id) FROM goose_db_version").Scan(&version); err != nil {
		t.Fatalf("Failed to read migration version: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected schema version 1, got %d", version)
	}
}

func TestMigrationManager_UsesDialectAndRoot(t *testing.T) {
	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	called := false
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		called = true
		if dir != "." {
			t.Errorf("Expected migrations root '.', got %q", dir)
		}
		return nil
	}

	if err := NewMigrationManager(nil, DialectPostgres).ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("ApplyMigrations error: %v", err)
	}
	if !called {
		t.Error("Expected goose to run")
	}
}

func TestMigrationManager_PropagatesFailure(t *testing.T) {
	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	err := NewMigrationManager(nil, DialectSQLite).ApplyMigrations(context.Background())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Expected wrapped goose error, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := openMigrated(t)
	now := time.Now().UTC()

	insert := "INSERT INTO sessions (id, short_id, name, created_at, expires_at) VALUES (?, ?, ?, ?, ?)"
	if _, err := db.Exec(insert, "s1", "AAAAAAAA", "Trip", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("Failed to insert session: %v", err)
	}
	_, err := db.Exec(insert, "s2", "AAAAAAAA", "Trip", now, now.Add(time.Hour))
	if !IsUniqueViolation(err) {
		t.Errorf("Expected unique violation, got %v", err)
	}

	if IsUniqueViolation(errors.New("other")) {
		t.Error("Plain error should not be a unique violation")
	}
	if IsUniqueViolation(nil) {
		t.Error("nil should not be a unique violation")
	}
}
