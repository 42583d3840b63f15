package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// errProbeAccepted marks a constraint probe whose invalid write went through
var errProbeAccepted = errors.New("constraint probe write accepted")

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db      *sql.DB
	dialect Dialect
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB, dialect Dialect) *SchemaValidator {
	return &SchemaValidator{db: db, dialect: dialect}
}

// ValidateAll runs every check in order and stops at the first failure
func (v *SchemaValidator) ValidateAll(ctx context.Context) error {
	checks := []func(context.Context) error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
		v.ValidateConstraints,
	}
	for _, check := range checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	requiredTables := map[string]string{
		"sessions":         "Session records",
		"members":          "Member attendance records",
		"goose_db_version": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(ctx, table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies every column the repositories read and write is present
func (v *SchemaValidator) ValidateTableStructure(ctx context.Context) error {
	sessionColumns := []string{
		"id", "short_id", "name", "leader_name", "leader_phone",
		"leader_member_id", "created_at", "expires_at",
	}
	if err := v.validateColumns(ctx, "sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}

	memberColumns := []string{
		"id", "session_id", "name", "name_key", "phone_number", "role",
		"status", "position", "joined_at", "last_activity",
	}
	if err := v.validateColumns(ctx, "members", memberColumns); err != nil {
		return fmt.Errorf("members table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies the uniqueness and ordering indexes exist
func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	requiredIndexes := map[string]string{
		"idx_sessions_expires_at":      "Expiry lookups",
		"idx_members_session_name_key": "Case-insensitive name uniqueness",
		"idx_members_session_order":    "Roster ordering",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(ctx, index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints probes the foreign key and the name uniqueness rule
// inside transactions that are always rolled back
func (v *SchemaValidator) ValidateConstraints(ctx context.Context) error {
	now := time.Now().UTC()

	err := v.probe(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, v.dialect.Rebind(`
			INSERT INTO members (id, session_id, name, name_key, role, status, position, joined_at, last_activity)
			VALUES (?, ?, ?, ?, 'member', 'joined', 1, ?, ?)`),
			"schema-probe-member", "schema-probe-missing", "Probe", "probe", now, now)
		return err
	})
	if errors.Is(err, errProbeAccepted) {
		return fmt.Errorf("foreign key constraint not enforced: members.session_id")
	}

	err = v.probe(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, v.dialect.Rebind(`
			INSERT INTO sessions (id, short_id, name, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?)`),
			"schema-probe-session", "PROBE000", "Probe", now, now.Add(time.Hour)); err != nil {
			return fmt.Errorf("failed to create probe session: %w", err)
		}
		insert := v.dialect.Rebind(`
			INSERT INTO members (id, session_id, name, name_key, role, status, position, joined_at, last_activity)
			VALUES (?, ?, ?, ?, 'member', 'joined', ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insert, "schema-probe-a", "schema-probe-session", "Probe", "probe", 1, now, now); err != nil {
			return fmt.Errorf("failed to create probe member: %w", err)
		}
		_, err := tx.ExecContext(ctx, insert, "schema-probe-b", "schema-probe-session", "PROBE", "probe", 2, now, now)
		return err
	})
	switch {
	case errors.Is(err, errProbeAccepted):
		return fmt.Errorf("unique constraint not enforced: members(session_id, name_key)")
	case err != nil && !IsUniqueViolation(err):
		return err
	}

	return nil
}

// probe runs fn in a transaction that is never committed. It returns
// errProbeAccepted when fn succeeds and fn's error otherwise.
func (v *SchemaValidator) probe(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin probe transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return errProbeAccepted
}

func (v *SchemaValidator) tableExists(ctx context.Context, tableName string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if v.dialect == DialectPostgres {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	}
	return v.count(ctx, query, tableName)
}

func (v *SchemaValidator) indexExists(ctx context.Context, indexName string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?"
	if v.dialect == DialectPostgres {
		query = "SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = $1"
	}
	return v.count(ctx, query, indexName)
}

func (v *SchemaValidator) count(ctx context.Context, query string, arg string) (bool, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// validateColumns checks that a table has at least the expected columns
func (v *SchemaValidator) validateColumns(ctx context.Context, tableName string, expected []string) error {
	query := "SELECT name FROM pragma_table_info(?)"
	if v.dialect == DialectPostgres {
		query = "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1"
	}

	rows, err := v.db.QueryContext(ctx, query, tableName)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range expected {
		if !found[col] {
			return fmt.Errorf("column %s not found", col)
		}
	}
	return nil
}
