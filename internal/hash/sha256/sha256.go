// Package sha256 fingerprints content payloads for archive keys and cheap
// snapshot comparisons.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements content.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Sum hashes the input and returns a hex digest.
func (Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
