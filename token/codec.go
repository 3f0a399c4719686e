// Package token provides the random-token and hashing primitives shared by
// every credential-bearing component: opaque secrets handed to clients,
// non-secret row/grouping identifiers, and the one-way digests under which
// secrets are persisted and looked up.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// DefaultSecretBytes is the entropy of a generated secret token. The encoded
// form is twice as many hex characters.
const DefaultSecretBytes = 32

// ErrInvalidLength is returned by GenerateSecure for non-positive sizes.
var ErrInvalidLength = errors.New("token byte length must be positive")

// GenerateSecure returns byteLength cryptographically secure random bytes
// hex-encoded (2*byteLength characters). Each call is independent; collisions
// are improbable at any practical volume.
func GenerateSecure(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", ErrInvalidLength
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}

// GenerateSecureDefault returns a secret of DefaultSecretBytes entropy.
func GenerateSecureDefault() (string, error) {
	return GenerateSecure(DefaultSecretBytes)
}

// NewID returns a 32-character hex identifier built from 16 random bytes.
// IDs are row keys, not secrets; they may appear in logs and set members.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// NewFamilyID returns a fresh grouping identifier for a refresh-token family.
// Same construction as NewID; the distinct name keeps call sites honest.
func NewFamilyID() string {
	return NewID()
}

// Hash returns the SHA-256 digest of raw as 64 hex characters. Deterministic:
// storage and lookup use the digest, never the raw value.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the SHA-256 digest of raw as a fixed array, the form the
// stores key records under.
func HashBytes(raw string) [32]byte {
	return sha256.Sum256([]byte(raw))
}

// Equal compares two token strings in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
