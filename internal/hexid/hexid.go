// Package hexid generates short random hex identifiers for queue items.
package hexid

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns an 8-character lowercase hex string (4 random bytes).
func New() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("hexid: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// Prefixed returns prefix + "-" + New(), e.g. "r-1a2b3c4d" for spawn requests.
func Prefixed(prefix string) string {
	if prefix == "" {
		return New()
	}
	return prefix + "-" + New()
}
