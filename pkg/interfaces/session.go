package interfaces

import (
	"context"
	"time"

	"busbuddy/internal/attendance"
	"busbuddy/pkg/types"
)

// CreateSessionParams carries the optional inputs of session creation
type CreateSessionParams struct {
	Name        string
	LeaderName  string
	LeaderPhone string
	// Duration of zero selects types.DefaultSessionDuration
	Duration time.Duration
}

// CreateSessionResult holds the new session and, when a leader name was
// given, the leader's member record
type CreateSessionResult struct {
	Session      *types.Session `json:"session"`
	LeaderMember *types.Member  `json:"leaderMember,omitempty"`
}

// SessionSnapshot is the polling read used by the leader dashboard
type SessionSnapshot struct {
	Session *types.Session  `json:"session"`
	Members []*types.Member `json:"members"`
}

// SessionManager is the only entry point external callers (HTTP handlers,
// dashboards) use. Short-code resolution and id-scoped member operations are
// deliberately separate steps.
type SessionManager interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*CreateSessionResult, error)

	// ResolveShortCode maps a shareable code to a live session
	ResolveShortCode(ctx context.Context, shortID string) (*types.Session, error)

	// GetSession returns a live session by its internal id
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// DeleteSession removes a session and all of its members
	DeleteSession(ctx context.Context, sessionID string) error

	// ListMembers returns the members of a live session in join order
	ListMembers(ctx context.Context, sessionID string) ([]*types.Member, error)

	// JoinSession adds a member or re-joins an existing one with the same name
	JoinSession(ctx context.Context, sessionID, name, phoneNumber string) (*types.Member, error)

	// UpdateMemberStatus sets a member's attendance status
	UpdateMemberStatus(ctx context.Context, sessionID, memberID string, status types.MemberStatus) (*types.Member, error)

	// GetSessionWithMembers composes short-code resolution and member listing
	GetSessionWithMembers(ctx context.Context, shortID string) (*SessionSnapshot, error)

	// Stats aggregates a member snapshot under one attendance counting mode
	Stats(members []*types.Member, mode attendance.Mode) types.Stats
}
