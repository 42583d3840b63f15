package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// goose keeps its base filesystem and dialect in package state
var gooseMu sync.Mutex

// gooseUpContext is a seam for testing goose.UpContext
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// MigrationManager applies the embedded schema for one dialect
// FUNCTIONAL DISCOVERY: Migrations ship inside the binary so a fresh
// deployment needs nothing but a reachable database
type MigrationManager struct {
	db      *sql.DB
	dialect Dialect
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB, dialect Dialect) *MigrationManager {
	return &MigrationManager{db: db, dialect: dialect}
}

// Migrations returns the embedded migration files for a dialect
func Migrations(dialect Dialect) (fs.FS, error) {
	dir, err := migrationsDir(dialect)
	if err != nil {
		return nil, err
	}
	return fs.Sub(migrationsFS, dir)
}

func migrationsDir(dialect Dialect) (string, error) {
	switch dialect {
	case DialectSQLite:
		return "migrations/sqlite", nil
	case DialectPostgres:
		return "migrations/postgres", nil
	default:
		return "", fmt.Errorf("no migrations for driver %q", dialect)
	}
}

// ApplyMigrations applies all pending migrations
// ARCHITECTURAL DISCOVERY: goose records applied versions in its own table,
// so re-running on every start is a no-op once the schema is current
func (m *MigrationManager) ApplyMigrations(ctx context.Context) error {
	migrations, err := Migrations(m.dialect)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(m.dialect)); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Info().Str("driver", string(m.dialect)).Msg("Database migrations applied")
	return nil
}

// ValidateSchema ensures database matches expected structure
func (m *MigrationManager) ValidateSchema(ctx context.Context) error {
	return NewSchemaValidator(m.db, m.dialect).ValidateAll(ctx)
}
