package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"busbuddy/internal/idgen"
	"busbuddy/pkg/interfaces"
	"busbuddy/pkg/types"
)

// shortCodeAttempts bounds how many fresh codes are tried when an insert hits
// the short code uniqueness constraint
const shortCodeAttempts = 3

// Store is the lifecycle authority for sessions. It stamps creation and expiry
// times and hides expired sessions from every read.
type Store struct {
	repo            interfaces.SessionRepository
	ids             idgen.Generator
	now             func() time.Time
	defaultDuration time.Duration
	maxDuration     time.Duration
}

// NewStore wraps a repository with session lifecycle rules. A zero
// defaultDuration selects types.DefaultSessionDuration; a zero maxDuration
// leaves durations uncapped.
func NewStore(repo interfaces.SessionRepository, ids idgen.Generator, now func() time.Time, defaultDuration, maxDuration time.Duration) *Store {
	if defaultDuration <= 0 {
		defaultDuration = types.DefaultSessionDuration
	}
	return &Store{repo: repo, ids: ids, now: now, defaultDuration: defaultDuration, maxDuration: maxDuration}
}

// Create allocates identifiers and persists a new session. A zero duration
// selects the store's default.
func (s *Store) Create(ctx context.Context, name, leaderName, leaderPhone string, duration time.Duration) (*types.Session, error) {
	name = types.NormalizeName(name)
	if err := types.ValidateSessionName(name); err != nil {
		return nil, err
	}

	leaderName = types.NormalizeName(leaderName)
	if len([]rune(leaderName)) > types.MaxNameLength {
		return nil, types.ErrInvalidLeaderName
	}
	leaderPhone = strings.TrimSpace(leaderPhone)
	if err := types.ValidatePhoneNumber(leaderPhone); err != nil {
		return nil, err
	}

	// timestamps are kept at microsecond precision
	switch {
	case duration == 0:
		duration = s.defaultDuration
	case duration < time.Microsecond:
		return nil, types.ErrInvalidDuration
	case s.maxDuration > 0 && duration > s.maxDuration:
		return nil, types.ErrDurationTooLong
	}

	createdAt := s.timestamp()
	session := &types.Session{
		ID:          s.ids.NewID(),
		Name:        name,
		LeaderName:  leaderName,
		LeaderPhone: leaderPhone,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(duration),
	}

	// TECHNICAL DISCOVERY: Generators give no hard uniqueness guarantee, so a
	// short code collision reported by storage is retried with a fresh code
	for attempt := 1; attempt <= shortCodeAttempts; attempt++ {
		session.ShortID = s.ids.NewSessionShortCode()

		err := s.repo.CreateSession(ctx, session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, types.ErrConflict) {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		log.Warn().Int("attempt", attempt).Str("short_id", session.ShortID).Msg("Session short code collision")
	}

	return nil, ErrShortCodeExhausted
}

// GetByID returns a live session; expired sessions are reported as not found
func (s *Store) GetByID(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.live(session)
}

// GetByShortCode resolves a shareable code to a live session. Codes are
// matched case-insensitively since they are generated uppercase only.
func (s *Store) GetByShortCode(ctx context.Context, code string) (*types.Session, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, types.ErrSessionNotFound
	}
	session, err := s.repo.GetSessionByShortID(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.live(session)
}

// SetLeaderMemberID backfills the weak leader reference
func (s *Store) SetLeaderMemberID(ctx context.Context, sessionID, memberID string) error {
	return s.repo.SetLeaderMemberID(ctx, sessionID, memberID)
}

// Delete removes a session and its members
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.repo.DeleteSession(ctx, sessionID)
}

// live applies lazy expiry: a row past its expiry is indistinguishable from a missing one
func (s *Store) live(session *types.Session) (*types.Session, error) {
	if session.IsExpired(s.now()) {
		return nil, types.ErrSessionNotFound
	}
	return session, nil
}

// timestamp truncates to microseconds so values survive a round trip through
// any of the supported databases unchanged
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
