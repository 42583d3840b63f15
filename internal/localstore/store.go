// Package localstore is the local deployment variant of the session store: the
// whole dataset lives in one JSON document on disk (or only in memory when no
// path is configured).
//
// Expired sessions are purged, together with their members, every time the
// document is loaded so that storage stays bounded without a background sweep.
// Writers in separate processes are not coordinated; the last document written
// wins.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"busbuddy/pkg/interfaces"
	"busbuddy/pkg/types"
)

const documentVersion = 1

var _ interfaces.Store = (*Store)(nil)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("local store is closed")

// document is the persisted shape
type document struct {
	Version  int                       `json:"version"`
	Sessions map[string]*sessionRecord `json:"sessions"`
}

// sessionRecord nests members inside their owning session so deleting the
// record cascades by construction
type sessionRecord struct {
	Session *types.Session  `json:"session"`
	Members []*types.Member `json:"members"`
}

// Store implements interfaces.Store over a single JSON document
type Store struct {
	mu      sync.Mutex
	path    string
	now     func() time.Time
	doc     *document
	byShort map[string]string // short code -> session id
	closed  bool
}

// NewMemory returns a store that never touches disk
func NewMemory() *Store {
	s := &Store{now: time.Now, doc: emptyDocument()}
	s.reindex()
	return s
}

// Open loads the document at path, creating it lazily on first write.
// Expired sessions found while loading are dropped and the pruned document is
// written back immediately.
func Open(path string, now func() time.Time) (*Store, error) {
	if now == nil {
		now = time.Now
	}
	s := &Store{path: path, now: now, doc: emptyDocument()}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create local store directory: %w", err)
		}
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// first run
		case err != nil:
			return nil, fmt.Errorf("failed to read local store %s: %w", path, err)
		default:
			if err := json.Unmarshal(data, s.doc); err != nil {
				return nil, fmt.Errorf("failed to parse local store %s: %w", path, err)
			}
			if s.doc.Sessions == nil {
				s.doc.Sessions = make(map[string]*sessionRecord)
			}
			if err := validateDocument(s.doc); err != nil {
				return nil, fmt.Errorf("corrupt local store %s: %w", path, err)
			}
		}
	}

	purged := s.purgeExpired()
	s.reindex()

	if purged > 0 {
		log.Info().Int("purged", purged).Str("path", path).Msg("Purged expired sessions from local store")
		if err := s.persist(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// validateDocument rejects member records no code path could have written
func validateDocument(d *document) error {
	for id, rec := range d.Sessions {
		if rec == nil || rec.Session == nil {
			continue
		}
		for _, m := range rec.Members {
			switch {
			case m == nil:
				return fmt.Errorf("session %s: empty member record", id)
			case m.SessionID != id:
				return fmt.Errorf("session %s: member %s belongs to session %q", id, m.ID, m.SessionID)
			case !types.IsValidRole(m.Role):
				return fmt.Errorf("session %s: member %s has invalid role %q", id, m.ID, m.Role)
			case !types.IsValidStatus(m.Status):
				return fmt.Errorf("session %s: member %s has invalid status %q", id, m.ID, m.Status)
			}
		}
	}
	return nil
}

func emptyDocument() *document {
	return &document{Version: documentVersion, Sessions: make(map[string]*sessionRecord)}
}

// purgeExpired drops every session with now >= expiresAt
func (s *Store) purgeExpired() int {
	now := s.now()
	purged := 0
	for id, rec := range s.doc.Sessions {
		if rec == nil || rec.Session == nil || rec.Session.IsExpired(now) {
			delete(s.doc.Sessions, id)
			purged++
		}
	}
	return purged
}

func (s *Store) reindex() {
	s.byShort = make(map[string]string, len(s.doc.Sessions))
	for id, rec := range s.doc.Sessions {
		s.byShort[rec.Session.ShortID] = id
	}
}

// persist writes the document atomically: temp file in the same directory, then rename
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}

	data, err := json.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("failed to encode local store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create local store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write local store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace local store: %w", err)
	}
	return nil
}

// mutate applies fn and persists; on any failure the in-memory document is
// restored so memory and disk never diverge
func (s *Store) mutate(fn func() error) error {
	if s.closed {
		return ErrClosed
	}
	backup := cloneDocument(s.doc)

	if err := fn(); err != nil {
		s.doc = backup
		s.reindex()
		return err
	}
	if err := s.persist(); err != nil {
		s.doc = backup
		s.reindex()
		return err
	}
	return nil
}

func cloneDocument(d *document) *document {
	c := &document{Version: d.Version, Sessions: make(map[string]*sessionRecord, len(d.Sessions))}
	for id, rec := range d.Sessions {
		members := make([]*types.Member, len(rec.Members))
		for i, m := range rec.Members {
			members[i] = m.Clone()
		}
		c.Sessions[id] = &sessionRecord{Session: rec.Session.Clone(), Members: members}
	}
	return c
}

// CreateSession inserts a new session record
func (s *Store) CreateSession(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(func() error {
		if _, exists := s.doc.Sessions[session.ID]; exists {
			return fmt.Errorf("%w: session id already in use", types.ErrConflict)
		}
		if _, exists := s.byShort[session.ShortID]; exists {
			return types.ErrDuplicateShortID
		}
		s.doc.Sessions[session.ID] = &sessionRecord{Session: session.Clone(), Members: []*types.Member{}}
		s.byShort[session.ShortID] = session.ID
		return nil
	})
}

// GetSessionByID returns a copy of the stored session
func (s *Store) GetSessionByID(_ context.Context, sessionID string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	rec, ok := s.doc.Sessions[sessionID]
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	return rec.Session.Clone(), nil
}

// GetSessionByShortID resolves a shareable code
func (s *Store) GetSessionByShortID(ctx context.Context, shortID string) (*types.Session, error) {
	s.mu.Lock()
	id, ok := s.byShort[shortID]
	s.mu.Unlock()

	if !ok {
		return nil, types.ErrSessionNotFound
	}
	return s.GetSessionByID(ctx, id)
}

// SetLeaderMemberID backfills the leader reference; a vanished session is ignored
func (s *Store) SetLeaderMemberID(_ context.Context, sessionID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(func() error {
		if rec, ok := s.doc.Sessions[sessionID]; ok {
			rec.Session.LeaderMemberID = memberID
		}
		return nil
	})
}

// DeleteSession removes the session record and, with it, every member
func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(func() error {
		rec, ok := s.doc.Sessions[sessionID]
		if !ok {
			return types.ErrSessionNotFound
		}
		delete(s.byShort, rec.Session.ShortID)
		delete(s.doc.Sessions, sessionID)
		return nil
	})
}

// ListMembers returns copies ordered by join time; ties keep insertion order
func (s *Store) ListMembers(_ context.Context, sessionID string) ([]*types.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	rec, ok := s.doc.Sessions[sessionID]
	if !ok {
		return nil, types.ErrSessionNotFound
	}

	members := make([]*types.Member, len(rec.Members))
	for i, m := range rec.Members {
		members[i] = m.Clone()
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

// GetMember returns one member of a session
func (s *Store) GetMember(_ context.Context, sessionID, memberID string) (*types.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if m := s.findMember(sessionID, memberID); m != nil {
		return m.Clone(), nil
	}
	return nil, types.ErrMemberNotFound
}

// FindMemberByName matches case-insensitively
func (s *Store) FindMemberByName(_ context.Context, sessionID, name string) (*types.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	rec, ok := s.doc.Sessions[sessionID]
	if !ok {
		return nil, types.ErrMemberNotFound
	}
	key := types.NameKey(name)
	for _, m := range rec.Members {
		if types.NameKey(m.Name) == key {
			return m.Clone(), nil
		}
	}
	return nil, types.ErrMemberNotFound
}

// InsertMember appends a member, enforcing case-insensitive name uniqueness
func (s *Store) InsertMember(_ context.Context, member *types.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(func() error {
		rec, ok := s.doc.Sessions[member.SessionID]
		if !ok {
			return types.ErrSessionNotFound
		}
		key := types.NameKey(member.Name)
		for _, m := range rec.Members {
			if m.ID == member.ID {
				return fmt.Errorf("%w: member id already in use", types.ErrConflict)
			}
			if types.NameKey(m.Name) == key {
				return types.ErrDuplicateMemberName
			}
		}
		rec.Members = append(rec.Members, member.Clone())
		return nil
	})
}

// UpdateMember overwrites status, phone number and last activity
func (s *Store) UpdateMember(_ context.Context, member *types.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(func() error {
		m := s.findMember(member.SessionID, member.ID)
		if m == nil {
			return types.ErrMemberNotFound
		}
		m.Status = member.Status
		m.PhoneNumber = member.PhoneNumber
		m.LastActivity = member.LastActivity
		return nil
	})
}

func (s *Store) findMember(sessionID, memberID string) *types.Member {
	rec, ok := s.doc.Sessions[sessionID]
	if !ok {
		return nil
	}
	for _, m := range rec.Members {
		if m.ID == memberID {
			return m
		}
	}
	return nil
}

// HealthCheck reports whether the store is open and its directory reachable
func (s *Store) HealthCheck(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.path == "" {
		return nil
	}
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("local store directory unavailable: %w", err)
	}
	return nil
}

// Close marks the store closed. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
