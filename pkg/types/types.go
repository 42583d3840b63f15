package types

import (
	"time"
)

// Member status values. Transitions between them are caller-driven and
// unconstrained; there is no terminal state.
const (
	StatusJoined  MemberStatus = "joined"
	StatusPresent MemberStatus = "present"
	StatusMissing MemberStatus = "missing"
)

// Member role values
const (
	RoleLeader MemberRole = "leader"
	RoleMember MemberRole = "member"
)

// DefaultSessionDuration is applied when a session is created without an explicit duration
const DefaultSessionDuration = 24 * time.Hour

// MemberStatus is the current attendance state of a member
type MemberStatus string

// MemberRole distinguishes the session leader from regular members
type MemberRole string

// Session represents a bounded-lifetime group attendance event
// FUNCTIONAL DISCOVERY: CreatedAt and ExpiresAt are set once at creation;
// only LeaderMemberID is ever written after insert
type Session struct {
	ID             string    `json:"id" db:"id"`
	ShortID        string    `json:"short_id" db:"short_id"`
	Name           string    `json:"name" db:"name"`
	LeaderName     string    `json:"leader_name,omitempty" db:"leader_name"`
	LeaderPhone    string    `json:"leader_phone,omitempty" db:"leader_phone"`
	LeaderMemberID string    `json:"leader_member_id,omitempty" db:"leader_member_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
}

// Member is a participant record owned by exactly one session
// ARCHITECTURAL DISCOVERY: SessionID is an ownership edge; a member never
// moves between sessions and is deleted with its session
type Member struct {
	ID           string       `json:"id" db:"id"`
	SessionID    string       `json:"session_id" db:"session_id"`
	Name         string       `json:"name" db:"name"`
	PhoneNumber  string       `json:"phone_number,omitempty" db:"phone_number"`
	Role         MemberRole   `json:"role" db:"role"`
	Status       MemberStatus `json:"status" db:"status"`
	JoinedAt     time.Time    `json:"joined_at" db:"joined_at"`
	LastActivity time.Time    `json:"last_activity" db:"last_activity"`
}

// Stats holds derived attendance counts; never persisted
type Stats struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Missing int `json:"missing"`
}

// IsExpired reports whether the session is past its expiry at the given instant
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Clone returns a copy safe to hand out across component boundaries
func (m *Member) Clone() *Member {
	c := *m
	return &c
}

// Clone returns a copy safe to hand out across component boundaries
func (s *Session) Clone() *Session {
	c := *s
	return &c
}
