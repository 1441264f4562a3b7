package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

// Gate decides whether a request carries valid admin or device credentials.
// It holds no mutable state and is safe for concurrent use.
type Gate struct {
	adminSecret []byte
	hasher      *Hasher
	keys        KeyRepository
}

// NewGate creates a Gate. adminSecret is compared against the X-Admin-Secret
// header; an empty secret rejects every admin request.
func NewGate(adminSecret string, hasher *Hasher, keys KeyRepository) *Gate {
	return &Gate{
		adminSecret: []byte(adminSecret),
		hasher:      hasher,
		keys:        keys,
	}
}

// AuthorizeAdmin checks the presented admin secret.
// Returns ErrForbidden when it is empty or does not match.
func (g *Gate) AuthorizeAdmin(secret string) error {
	if secret == "" || len(g.adminSecret) == 0 {
		return ErrForbidden
	}
	if subtle.ConstantTimeCompare([]byte(secret), g.adminSecret) != 1 {
		return ErrForbidden
	}
	return nil
}

// AuthenticateDevice verifies that rawKey is the active key of deviceID and
// returns the key record. Every credential failure is ErrUnauthorized; the
// wrapped detail is for logs only. Storage failures are returned as-is.
func (g *Gate) AuthenticateDevice(ctx context.Context, rawKey, deviceID string) (*APIKey, error) {
	if rawKey == "" || deviceID == "" {
		return nil, fmt.Errorf("%w: missing credentials", ErrUnauthorized)
	}

	key, err := g.keys.FindByDevice(ctx, deviceID)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: no key for device", ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("loading api key: %w", err)
	}

	if !g.hasher.Verify(rawKey, key.KeyHash) {
		return nil, fmt.Errorf("%w: key mismatch", ErrUnauthorized)
	}
	if !key.Active() {
		return nil, fmt.Errorf("%w: key revoked", ErrUnauthorized)
	}

	return key, nil
}
