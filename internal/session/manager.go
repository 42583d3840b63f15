package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"busbuddy/internal/attendance"
	"busbuddy/internal/idgen"
	"busbuddy/pkg/interfaces"
	"busbuddy/pkg/types"
)

var _ interfaces.SessionManager = (*Manager)(nil)

// Manager is the session service: the composition root that orchestrates the
// session store and member registry. It does not know which storage variant
// is in effect.
type Manager struct {
	sessions *Store
	members  *Registry
}

// Option customizes a Manager
type Option func(*options)

type options struct {
	ids             idgen.Generator
	now             func() time.Time
	defaultDuration time.Duration
	maxDuration     time.Duration
}

// WithGenerator replaces the identifier generator
func WithGenerator(g idgen.Generator) Option {
	return func(o *options) { o.ids = g }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithDefaultDuration sets the lifetime of sessions created without one
func WithDefaultDuration(d time.Duration) Option {
	return func(o *options) { o.defaultDuration = d }
}

// WithMaxDuration caps caller-supplied session durations; zero means no cap
func WithMaxDuration(d time.Duration) Option {
	return func(o *options) { o.maxDuration = d }
}

// NewManager creates a session service over the given store
func NewManager(store interfaces.Store, opts ...Option) *Manager {
	o := options{ids: idgen.NewRandom(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Manager{
		sessions: NewStore(store, o.ids, o.now, o.defaultDuration, o.maxDuration),
		members:  NewRegistry(store, o.ids, o.now),
	}
}

// CreateSession creates a session and, when a leader name is given, the
// leader's member record (role leader, status present)
func (m *Manager) CreateSession(ctx context.Context, params interfaces.CreateSessionParams) (*interfaces.CreateSessionResult, error) {
	session, err := m.sessions.Create(ctx, params.Name, params.LeaderName, params.LeaderPhone, params.Duration)
	if err != nil {
		return nil, err
	}

	result := &interfaces.CreateSessionResult{Session: session}

	if session.LeaderName != "" {
		leader, err := m.members.AddLeader(ctx, session.ID, session.LeaderName, session.LeaderPhone)
		if err != nil {
			// a session without its requested leader is not handed out
			if delErr := m.sessions.Delete(ctx, session.ID); delErr != nil {
				log.Error().Err(delErr).Str("session_id", session.ID).Msg("Failed to remove session after leader creation error")
			}
			return nil, fmt.Errorf("failed to create leader member: %w", err)
		}

		// ARCHITECTURAL DISCOVERY: The leader link is a weak, best-effort
		// back-reference; failing to record it does not fail creation
		if err := m.sessions.SetLeaderMemberID(ctx, session.ID, leader.ID); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to link leader member")
		} else {
			session.LeaderMemberID = leader.ID
		}
		result.LeaderMember = leader
	}

	log.Info().
		Str("session_id", session.ID).
		Str("short_id", session.ShortID).
		Time("expires_at", session.ExpiresAt).
		Msg("Created session")
	return result, nil
}

// ResolveShortCode maps a shareable code to a live session
func (m *Manager) ResolveShortCode(ctx context.Context, shortID string) (*types.Session, error) {
	return m.sessions.GetByShortCode(ctx, shortID)
}

// GetSession returns a live session by internal id
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return m.sessions.GetByID(ctx, sessionID)
}

// DeleteSession removes a live session and every member it owns
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := m.sessions.GetByID(ctx, sessionID); err != nil {
		return err
	}
	if err := m.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	log.Info().Str("session_id", sessionID).Msg("Deleted session")
	return nil
}

// ListMembers returns the members of a live session
func (m *Manager) ListMembers(ctx context.Context, sessionID string) ([]*types.Member, error) {
	if _, err := m.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.members.List(ctx, sessionID)
}

// JoinSession adds a member to a live session identified by internal id.
// Callers holding only a short code resolve it first with ResolveShortCode.
func (m *Manager) JoinSession(ctx context.Context, sessionID, name, phoneNumber string) (*types.Member, error) {
	if _, err := m.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.members.Add(ctx, sessionID, name, phoneNumber)
}

// UpdateMemberStatus sets a member's attendance status
func (m *Manager) UpdateMemberStatus(ctx context.Context, sessionID, memberID string, status types.MemberStatus) (*types.Member, error) {
	if _, err := m.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.members.UpdateStatus(ctx, sessionID, memberID, status)
}

// GetSessionWithMembers is the dashboard polling read
func (m *Manager) GetSessionWithMembers(ctx context.Context, shortID string) (*interfaces.SessionSnapshot, error) {
	session, err := m.sessions.GetByShortCode(ctx, shortID)
	if err != nil {
		return nil, err
	}
	members, err := m.members.List(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return &interfaces.SessionSnapshot{Session: session, Members: members}, nil
}

// Stats aggregates a member snapshot under the requested counting mode
func (m *Manager) Stats(members []*types.Member, mode attendance.Mode) types.Stats {
	return attendance.Compute(members, mode)
}
