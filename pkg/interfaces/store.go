package interfaces

import (
	"context"

	"busbuddy/pkg/types"
)

// SessionRepository persists session rows
// ARCHITECTURAL DISCOVERY: Repositories return raw rows and know nothing about
// expiry; the lazy-expiry filter lives in the session store component so every
// backend exposes identical visibility rules
type SessionRepository interface {
	// CreateSession inserts a new session. A short code collision is reported
	// as types.ErrConflict.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSessionByID returns types.ErrNotFound when no row exists
	GetSessionByID(ctx context.Context, sessionID string) (*types.Session, error)

	// GetSessionByShortID looks a session up by its shareable code
	GetSessionByShortID(ctx context.Context, shortID string) (*types.Session, error)

	// SetLeaderMemberID backfills the weak leader reference; missing sessions are not an error
	SetLeaderMemberID(ctx context.Context, sessionID, memberID string) error

	// DeleteSession removes a session together with all of its members
	DeleteSession(ctx context.Context, sessionID string) error
}

// MemberRepository persists member rows scoped to a session
type MemberRepository interface {
	// ListMembers returns members ordered by join time, then insertion order
	ListMembers(ctx context.Context, sessionID string) ([]*types.Member, error)

	// GetMember returns types.ErrNotFound when the member is not in the session
	GetMember(ctx context.Context, sessionID, memberID string) (*types.Member, error)

	// FindMemberByName matches names case-insensitively within one session
	FindMemberByName(ctx context.Context, sessionID, name string) (*types.Member, error)

	// InsertMember stores a new member. A (session, name) uniqueness violation
	// is reported as types.ErrConflict.
	InsertMember(ctx context.Context, member *types.Member) error

	// UpdateMember writes status, phone number and last activity of an existing member
	UpdateMember(ctx context.Context, member *types.Member) error
}

// Store is the full persistence capability needed by the session service.
// Hosted (SQL) and local (single document) deployments both implement it.
type Store interface {
	SessionRepository
	MemberRepository

	// HealthCheck verifies the backing storage is reachable
	HealthCheck(ctx context.Context) error

	// Close releases storage resources
	Close() error
}
