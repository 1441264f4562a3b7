// Package auth implements API-key authentication for devices and the shared
// secret that guards administrative operations.
//
// Each device holds at most one key. The raw key is returned exactly once,
// when it is issued or refreshed; only a salted SHA-256 digest is persisted.
// A key moves between two states:
//
//	ACTIVE  --revoke-->  REVOKED
//	ACTIVE  --refresh--> ACTIVE   (new secret, same row)
//	REVOKED --refresh--> ACTIVE
//
// The Gate is the single place that decides whether a request may proceed.
// It never tells callers why a device credential was rejected: an unknown
// device, a missing key, a wrong secret and a revoked key all surface as
// ErrUnauthorized.
package auth
