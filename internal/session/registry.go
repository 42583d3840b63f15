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

// Registry owns member records of already-resolved, live sessions. It enforces
// case-insensitive name uniqueness and stamps status transitions.
type Registry struct {
	repo interfaces.MemberRepository
	ids  idgen.Generator
	now  func() time.Time
}

// NewRegistry wraps a member repository
func NewRegistry(repo interfaces.MemberRepository, ids idgen.Generator, now func() time.Time) *Registry {
	return &Registry{repo: repo, ids: ids, now: now}
}

// List returns the members of a session in join order
func (r *Registry) List(ctx context.Context, sessionID string) ([]*types.Member, error) {
	members, err := r.repo.ListMembers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []*types.Member{}
	}
	return members, nil
}

// Add joins a regular member. A name already present in the session (ignoring
// case) is a re-join: the existing record becomes present instead of a
// duplicate being created.
func (r *Registry) Add(ctx context.Context, sessionID, name, phoneNumber string) (*types.Member, error) {
	return r.add(ctx, sessionID, name, phoneNumber, types.RoleMember, types.StatusJoined)
}

// AddLeader joins the session leader, who is assumed present at creation
func (r *Registry) AddLeader(ctx context.Context, sessionID, name, phoneNumber string) (*types.Member, error) {
	return r.add(ctx, sessionID, name, phoneNumber, types.RoleLeader, types.StatusPresent)
}

func (r *Registry) add(ctx context.Context, sessionID, name, phoneNumber string, role types.MemberRole, status types.MemberStatus) (*types.Member, error) {
	name = types.NormalizeName(name)
	if err := types.ValidateMemberName(name); err != nil {
		return nil, err
	}
	phoneNumber = strings.TrimSpace(phoneNumber)
	if err := types.ValidatePhoneNumber(phoneNumber); err != nil {
		return nil, err
	}

	now := r.timestamp()

	// FUNCTIONAL DISCOVERY: The lookup is only a fast path; the storage
	// uniqueness constraint remains the source of truth for concurrent joins
	existing, err := r.repo.FindMemberByName(ctx, sessionID, name)
	switch {
	case err == nil:
		existing.Status = types.StatusPresent
		existing.LastActivity = now
		if phoneNumber != "" {
			existing.PhoneNumber = phoneNumber
		}
		if err := r.repo.UpdateMember(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to re-join member: %w", err)
		}
		log.Info().Str("session_id", sessionID).Str("member_id", existing.ID).Msg("Member re-joined")
		return existing, nil
	case !errors.Is(err, types.ErrNotFound):
		return nil, fmt.Errorf("failed to look up member: %w", err)
	}

	member := &types.Member{
		ID:           r.ids.NewID(),
		SessionID:    sessionID,
		Name:         name,
		PhoneNumber:  phoneNumber,
		Role:         role,
		Status:       status,
		JoinedAt:     now,
		LastActivity: now,
	}

	if err := r.repo.InsertMember(ctx, member); err != nil {
		if errors.Is(err, types.ErrConflict) {
			return nil, types.ErrDuplicateMemberName
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	log.Info().Str("session_id", sessionID).Str("member_id", member.ID).Str("role", string(role)).Msg("Member joined")
	return member, nil
}

// UpdateStatus sets a member's status and stamps its last activity
func (r *Registry) UpdateStatus(ctx context.Context, sessionID, memberID string, status types.MemberStatus) (*types.Member, error) {
	if !types.IsValidStatus(status) {
		return nil, types.ErrInvalidStatus
	}

	member, err := r.repo.GetMember(ctx, sessionID, memberID)
	if err != nil {
		return nil, err
	}

	member.Status = status
	member.LastActivity = r.timestamp()
	if err := r.repo.UpdateMember(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}

func (r *Registry) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}
