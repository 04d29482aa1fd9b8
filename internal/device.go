package internal

import (
	"crypto/sha256"
	"crypto/subtle"
)

// HashClientValue fingerprints a client attribute such as a user agent so it
// can be stored and compared without keeping the raw value.
func HashClientValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}

// SameClient compares a stored fingerprint with a presented value. A zero
// fingerprint matches anything.
func SameClient(stored [32]byte, presented string) bool {
	if stored == ([32]byte{}) {
		return true
	}
	h := HashClientValue(presented)
	return subtle.ConstantTimeCompare(stored[:], h[:]) == 1
}
