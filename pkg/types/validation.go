package types

import (
	"strings"
	"unicode/utf8"
)

// Field limits mirror the column sizes of the persisted schema
const (
	MaxNameLength  = 255
	MaxPhoneLength = 50
)

// NormalizeName trims surrounding whitespace from a display name
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// NameKey returns the case-insensitive comparison key for member names
// FUNCTIONAL DISCOVERY: "Ann" and "ann" in one session are the same member
func NameKey(name string) string {
	return strings.ToLower(NormalizeName(name))
}

// ValidateSessionName checks a trimmed session name
func ValidateSessionName(name string) error {
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return ErrInvalidSessionName
	}
	return nil
}

// ValidateMemberName checks a trimmed member name
func ValidateMemberName(name string) error {
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return ErrInvalidMemberName
	}
	return nil
}

// ValidatePhoneNumber checks an optional, trimmed phone number
func ValidatePhoneNumber(phone string) error {
	if utf8.RuneCountInString(phone) > MaxPhoneLength {
		return ErrInvalidPhoneNumber
	}
	return nil
}

// IsValidStatus reports whether status is one of the three known values
func IsValidStatus(status MemberStatus) bool {
	switch status {
	case StatusJoined, StatusPresent, StatusMissing:
		return true
	default:
		return false
	}
}

// IsValidRole reports whether role is leader or member
func IsValidRole(role MemberRole) bool {
	return role == RoleLeader || role == RoleMember
}

// ParseStatus converts free-form input into a MemberStatus
func ParseStatus(s string) (MemberStatus, error) {
	status := MemberStatus(strings.TrimSpace(s))
	if !IsValidStatus(status) {
		return "", ErrInvalidStatus
	}
	return status, nil
}
