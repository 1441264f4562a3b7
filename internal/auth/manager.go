package auth

import (
	"context"
	"fmt"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventPublisher is notified after a key lifecycle change commits.
// Implementations must not block; delivery is best effort.
type EventPublisher interface {
	PublishKeyEvent(event, deviceID, keyID string)
}

// Key lifecycle event names.
const (
	EventKeyIssued    = "issued"
	EventKeyRevoked   = "revoked"
	EventKeyRefreshed = "refreshed"
)

// Manager runs the key lifecycle operations: issue, revoke and refresh.
// Authorisation of the caller happens before these methods are reached,
// except for Revoke, which authenticates the key it is asked to revoke.
type Manager struct {
	hasher *Hasher
	keys   KeyRepository
	gate   *Gate
	events EventPublisher
	logger Logger
}

// NewManager creates a key Manager.
func NewManager(hasher *Hasher, keys KeyRepository, gate *Gate) *Manager {
	return &Manager{
		hasher: hasher,
		keys:   keys,
		gate:   gate,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetEventPublisher sets where key lifecycle events are sent.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	m.events = p
}

// Issue generates a key for deviceID and returns the raw secret once.
// Returns device.ErrDeviceNotFound or ErrKeyExists.
func (m *Manager) Issue(ctx context.Context, deviceID string) (*IssuedKey, error) {
	raw, err := m.hasher.GenerateKey()
	if err != nil {
		return nil, err
	}

	key, err := m.keys.Issue(ctx, deviceID, m.hasher.Hash(raw))
	if err != nil {
		return nil, err
	}

	m.logger.Info("api key issued", "device_id", deviceID, "key_id", key.ID)
	m.publish(EventKeyIssued, deviceID, key.ID)
	return &IssuedKey{ID: key.ID, RawKey: raw}, nil
}

// Revoke disables the key presented by the device itself. The caller must
// prove possession of the key; anything else is ErrUnauthorized.
func (m *Manager) Revoke(ctx context.Context, rawKey, deviceID string) (*APIKey, error) {
	key, err := m.gate.AuthenticateDevice(ctx, rawKey, deviceID)
	if err != nil {
		return nil, err
	}

	if err := m.keys.Revoke(ctx, key.ID); err != nil {
		return nil, err
	}
	key.Revoked = true

	m.logger.Info("api key revoked", "device_id", deviceID, "key_id", key.ID)
	m.publish(EventKeyRevoked, deviceID, key.ID)
	return key, nil
}

// Refresh replaces the secret of an existing key, re-activating it if it
// was revoked. The old secret stops working immediately.
// Returns ErrKeyNotFound when the device has no key.
func (m *Manager) Refresh(ctx context.Context, deviceID string) (*IssuedKey, error) {
	raw, err := m.hasher.GenerateKey()
	if err != nil {
		return nil, err
	}

	key, err := m.keys.Refresh(ctx, deviceID, m.hasher.Hash(raw))
	if err != nil {
		return nil, fmt.Errorf("refreshing key for device %s: %w", deviceID, err)
	}

	m.logger.Info("api key refreshed", "device_id", deviceID, "key_id", key.ID)
	m.publish(EventKeyRefreshed, deviceID, key.ID)
	return &IssuedKey{ID: key.ID, RawKey: raw}, nil
}

func (m *Manager) publish(event, deviceID, keyID string) {
	if m.events != nil {
		m.events.PublishKeyEvent(event, deviceID, keyID)
	}
}
