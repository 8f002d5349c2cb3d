package common

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var hexTokenPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// NewRequestID generates a 128-bit random request id as 32 lowercase hex characters
func NewRequestID() string {
	return newHexToken()
}

// NewChannelID generates a progress channel id for a monitoring connection
func NewChannelID() string {
	return newHexToken()
}

// NewOutputToken generates the base name for a generated output file
func NewOutputToken() string {
	return newHexToken()
}

// IsHexToken reports whether s has the shape of an id produced by this package.
// Handlers use it to reject path traversal before touching the store.
func IsHexToken(s string) bool {
	return hexTokenPattern.MatchString(s)
}

func newHexToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
