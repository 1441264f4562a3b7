package auth

import (
	"errors"
	"time"
)

// APIKey is the stored credential of one device.
type APIKey struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id"`
	KeyHash    string     `json:"-"` // never serialised
	Revoked    bool       `json:"revoked"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_date"`
	UpdatedAt  time.Time  `json:"updated_date"`
}

// IssuedKey is returned by issue and refresh. RawKey is shown to the
// caller once and cannot be recovered afterwards.
type IssuedKey struct {
	ID     string `json:"id"`
	RawKey string `json:"raw_key"`
}

// Active reports whether the key may authenticate requests.
func (k *APIKey) Active() bool {
	return !k.Revoked
}

// Domain errors for authentication and key management.
var (
	// ErrUnauthorized covers every device credential failure.
	ErrUnauthorized = errors.New("invalid or missing API key")

	// ErrForbidden is returned when the admin secret is missing or wrong.
	ErrForbidden = errors.New("admin privileges required")

	ErrKeyNotFound = errors.New("api key not found")
	ErrKeyExists   = errors.New("api key already exists for device")
)
