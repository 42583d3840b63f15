package types

import (
	"errors"
	"fmt"
)

// Error categories. Every error surfaced by the session service either wraps
// one of these or is treated as unexpected.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// ARCHITECTURAL DISCOVERY: Specific errors wrap a category so callers can
// branch with errors.Is on either the category or the precise cause
var (
	ErrInvalidSessionName  = fmt.Errorf("%w: session name must be 1-%d characters", ErrValidation, MaxNameLength)
	ErrInvalidMemberName   = fmt.Errorf("%w: member name must be 1-%d characters", ErrValidation, MaxNameLength)
	ErrInvalidLeaderName   = fmt.Errorf("%w: leader name must be at most %d characters", ErrValidation, MaxNameLength)
	ErrInvalidPhoneNumber  = fmt.Errorf("%w: phone number must be at most %d characters", ErrValidation, MaxPhoneLength)
	ErrInvalidStatus       = fmt.Errorf("%w: status must be one of joined, present, missing", ErrValidation)
	ErrInvalidDuration     = fmt.Errorf("%w: duration must be at least one microsecond", ErrValidation)
	ErrDurationTooLong     = fmt.Errorf("%w: duration exceeds the allowed maximum", ErrValidation)
	ErrSessionNotFound     = fmt.Errorf("session %w", ErrNotFound)
	ErrMemberNotFound      = fmt.Errorf("member %w", ErrNotFound)
	ErrDuplicateMemberName = fmt.Errorf("%w: member with that name already exists", ErrConflict)
	ErrDuplicateShortID    = fmt.Errorf("%w: session short code already in use", ErrConflict)
)
