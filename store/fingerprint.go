package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// FpSize is the fixed width of a fingerprint in hex characters.
const FpSize = 32

// AlreadySeenMark is the reserved fingerprint value used to logically
// delete an index entry without rewriting the log.
const AlreadySeenMark = "00000000000000000000000000000000"

// Fingerprint returns the storage key for a canonical object id: a
// fixed-width, lowercase hex digest. Activity ids embed time-ordered
// components, but the fingerprint itself is opaque; only insertion order
// carries chronology.
func Fingerprint(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:FpSize/2])
}

// ValidFp reports whether s looks like a fingerprint.
func ValidFp(s string) bool {
	if len(s) != FpSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
