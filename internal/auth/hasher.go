package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// keyBytes is the entropy of a generated key. Base64url encodes it as 54 characters.
const keyBytes = 40

// Hasher generates raw API keys and derives their stored digests.
// The salt is fixed for the life of the process; changing it invalidates
// every issued key.
type Hasher struct {
	salt []byte
}

// NewHasher creates a Hasher using salt as the digest prefix.
func NewHasher(salt string) *Hasher {
	return &Hasher{salt: []byte(salt)}
}

// GenerateKey returns a new URL-safe raw key drawn from crypto/rand.
func (h *Hasher) GenerateKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns hex(sha256(salt || raw)). It is deterministic for a given salt.
func (h *Hasher) Hash(raw string) string {
	sum := sha256.New()
	sum.Write(h.salt)
	sum.Write([]byte(raw))
	return hex.EncodeToString(sum.Sum(nil))
}

// Verify reports whether raw hashes to digest, comparing in constant time.
func (h *Hasher) Verify(raw, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(h.Hash(raw)), []byte(digest)) == 1
}
