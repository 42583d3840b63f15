// Package idgen produces session short codes and opaque record identifiers.
package idgen

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// ShortCodeLength is the length of a shareable session code
	ShortCodeLength = 8

	// ShortCodeAlphabet restricts codes to uppercase letters and digits
	ShortCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Generator hands out identifiers. Implementations give no hard uniqueness
// guarantee; storage constraints are the source of truth.
type Generator interface {
	NewSessionShortCode() string
	NewID() string
}

// Random is the production generator: UUIDv4 ids and nanoid short codes
type Random struct{}

// NewRandom returns the default generator
func NewRandom() Random {
	return Random{}
}

// NewSessionShortCode returns an 8-character uppercase alphanumeric code
func (Random) NewSessionShortCode() string {
	return gonanoid.MustGenerate(ShortCodeAlphabet, ShortCodeLength)
}

// NewID returns an opaque unique identifier
func (Random) NewID() string {
	return uuid.NewString()
}
