package calls

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashLen is the length of every hashed identifier.
const HashLen = 16

// UnknownIdentifier stands in for a missing identifier.
const UnknownIdentifier = "unknown"

// HashIdentifier returns a stable one-way identifier for raw. Values that
// carry no identity (UnknownIdentifier, DefaultCustomerName) are returned as
// is.
func HashIdentifier(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return UnknownIdentifier
	}
	if s == UnknownIdentifier || s == DefaultCustomerName {
		return s
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:HashLen]
}
