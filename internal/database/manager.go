// Package database is the hosted storage variant: session and member
// repositories over database/sql for SQLite and PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	// ARCHITECTURAL DISCOVERY: Drivers register themselves with database/sql;
	// the configured dialect picks one by name at open time
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	dbconfig "busbuddy/pkg/database"
	"busbuddy/pkg/interfaces"
	"busbuddy/pkg/types"
)

var _ interfaces.Store = (*Manager)(nil)

// ErrClosed is returned by writes against a closed manager
var ErrClosed = errors.New("database manager is closed")

// Manager implements interfaces.Store on a SQL database
type Manager struct {
	db           *sql.DB
	dialect      dbconfig.Dialect
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the configured database and starts the writer goroutine.
// Migrations are applied separately by the caller.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	db, err := sql.Open(string(config.Driver), config.DataSourceName())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return NewManagerWithDB(db, config.Driver), nil
}

// NewManagerWithDB wraps an already opened handle. The manager owns db from
// here on and closes it on Close.
func NewManagerWithDB(db *sql.DB, dialect dbconfig.Dialect) *Manager {
	manager := &Manager{
		db:           db,
		dialect:      dialect,
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager
}

// writeLoop processes all write operations in a single goroutine. Failures
// are returned to the caller untouched: a conflict must surface, not be retried.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)

		case <-m.shutdown:
			log.Debug().Msg("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrClosed
	}
}

func (m *Manager) q(query string) string {
	return m.dialect.Rebind(query)
}

const sessionColumns = `id, short_id, name, leader_name, leader_phone, leader_member_id, created_at, expires_at`

const memberColumns = `id, session_id, name, phone_number, role, status, joined_at, last_activity`

// CreateSession inserts a session row. A short code collision is reported as
// types.ErrDuplicateShortID.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, m.q(`
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			session.ID,
			session.ShortID,
			session.Name,
			session.LeaderName,
			session.LeaderPhone,
			session.LeaderMemberID,
			session.CreatedAt,
			session.ExpiresAt,
		)
		if err != nil {
			if dbconfig.IsUniqueViolation(err) {
				return types.ErrDuplicateShortID
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSessionByID retrieves a session row regardless of expiry
func (m *Manager) GetSessionByID(ctx context.Context, sessionID string) (*types.Session, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, m.q(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), sessionID)
	return scanSession(row)
}

// GetSessionByShortID retrieves a session row by its shareable code
func (m *Manager) GetSessionByShortID(ctx context.Context, shortID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, m.q(`SELECT `+sessionColumns+` FROM sessions WHERE short_id = ?`), shortID)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*types.Session, error) {
	var session types.Session
	err := row.Scan(
		&session.ID,
		&session.ShortID,
		&session.Name,
		&session.LeaderName,
		&session.LeaderPhone,
		&session.LeaderMemberID,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	session.CreatedAt = session.CreatedAt.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	return &session, nil
}

// SetLeaderMemberID backfills the weak leader reference
func (m *Manager) SetLeaderMemberID(ctx context.Context, sessionID, memberID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, m.q(`UPDATE sessions SET leader_member_id = ? WHERE id = ?`), memberID, sessionID); err != nil {
			return fmt.Errorf("failed to set leader member: %w", err)
		}
		return nil
	})
}

// DeleteSession removes the members of a session and then the session itself
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

		if _, err := tx.ExecContext(ctx, m.q(`DELETE FROM members WHERE session_id = ?`), sessionID); err != nil {
			return fmt.Errorf("failed to delete members: %w", err)
		}

		res, err := tx.ExecContext(ctx, m.q(`DELETE FROM sessions WHERE id = ?`), sessionID)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return types.ErrSessionNotFound
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session deletion: %w", err)
		}
		return nil
	})
}

// ListMembers returns a session's members by join time, ties in insertion order
func (m *Manager) ListMembers(ctx context.Context, sessionID string) ([]*types.Member, error) {
	rows, err := m.db.QueryContext(ctx, m.q(`
		SELECT `+memberColumns+`
		FROM members
		WHERE session_id = ?
		ORDER BY joined_at ASC, position ASC`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	members := []*types.Member{}
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, member)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}
	return members, nil
}

// GetMember returns one member scoped to its session
func (m *Manager) GetMember(ctx context.Context, sessionID, memberID string) (*types.Member, error) {
	row := m.db.QueryRowContext(ctx, m.q(`
		SELECT `+memberColumns+` FROM members WHERE session_id = ? AND id = ?`), sessionID, memberID)
	return scanMemberRow(row)
}

// FindMemberByName matches on the folded name key
func (m *Manager) FindMemberByName(ctx context.Context, sessionID, name string) (*types.Member, error) {
	row := m.db.QueryRowContext(ctx, m.q(`
		SELECT `+memberColumns+` FROM members WHERE session_id = ? AND name_key = ?`), sessionID, types.NameKey(name))
	return scanMemberRow(row)
}

// InsertMember appends a member at the next position of its session
func (m *Manager) InsertMember(ctx context.Context, member *types.Member) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		// FUNCTIONAL DISCOVERY: position breaks ties between members that
		// joined within the same timestamp tick
		_, err := db.ExecContext(ctx, m.q(`
			INSERT INTO members (id, session_id, name, name_key, phone_number, role, status, position, joined_at, last_activity)
			VALUES (?, ?, ?, ?, ?, ?, ?,
				(SELECT COALESCE(MAX(position), 0) + 1 FROM members WHERE session_id = ?),
				?, ?)`),
			member.ID,
			member.SessionID,
			member.Name,
			types.NameKey(member.Name),
			member.PhoneNumber,
			member.Role,
			member.Status,
			member.SessionID,
			member.JoinedAt,
			member.LastActivity,
		)
		if err != nil {
			if dbconfig.IsUniqueViolation(err) {
				return types.ErrDuplicateMemberName
			}
			return fmt.Errorf("failed to insert member: %w", err)
		}
		return nil
	})
}

// UpdateMember overwrites status, phone number and last activity
func (m *Manager) UpdateMember(ctx context.Context, member *types.Member) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, m.q(`
			UPDATE members
			SET status = ?, phone_number = ?, last_activity = ?
			WHERE session_id = ? AND id = ?`),
			member.Status,
			member.PhoneNumber,
			member.LastActivity,
			member.SessionID,
			member.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update member: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return types.ErrMemberNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*types.Member, error) {
	var member types.Member
	err := row.Scan(
		&member.ID,
		&member.SessionID,
		&member.Name,
		&member.PhoneNumber,
		&member.Role,
		&member.Status,
		&member.JoinedAt,
		&member.LastActivity,
	)
	if err != nil {
		return nil, err
	}
	member.JoinedAt = member.JoinedAt.UTC()
	member.LastActivity = member.LastActivity.UTC()
	return &member, nil
}

func scanMemberRow(row *sql.Row) (*types.Member, error) {
	member, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to query member: %w", err)
	}
	return member, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB returns the underlying handle for migrations
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Dialect reports which SQL dialect the manager speaks
func (m *Manager) Dialect() dbconfig.Dialect {
	return m.dialect
}

// Close shuts down the writer goroutine and the connection pool
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
