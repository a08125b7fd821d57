package models

import (
	"strings"

	"github.com/google/uuid"
)

const localIDPrefix = "offline_"

// NewLocalID mints a collision-resistant local identifier. The prefix keeps it
// from ever matching the server identifier shape, so IsServerID is a total
// discriminator between "needs minting" and "already real".
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsServerID reports whether s matches the canonical identifier shape used by
// the remote authority: a hyphenated RFC 4122 UUID, nothing else. The parser
// alone also accepts urn:uuid:, braced and undashed forms; the length check
// pins it to the canonical 36-character encoding so near-UUID input is never
// forwarded as a server identifier.
func IsServerID(s string) bool {
	if len(s) != 36 || strings.HasPrefix(s, localIDPrefix) {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
