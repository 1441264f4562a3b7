package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/telemetry-core/internal/device"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/database"
)

// KeyRepository persists device API keys. A device has at most one key row.
type KeyRepository interface {
	// Issue stores a new key for deviceID.
	// Returns device.ErrDeviceNotFound or ErrKeyExists.
	Issue(ctx context.Context, deviceID, keyHash string) (*APIKey, error)

	// FindByDevice returns the key row of deviceID, revoked or not.
	// Returns ErrKeyNotFound when the device has no key.
	FindByDevice(ctx context.Context, deviceID string) (*APIKey, error)

	// Revoke marks the key revoked. Revoking a revoked key is a no-op.
	Revoke(ctx context.Context, keyID string) error

	// Refresh replaces the digest of the device's key and clears revocation.
	// The row keeps its ID. Returns ErrKeyNotFound when the device has no key.
	Refresh(ctx context.Context, deviceID, keyHash string) (*APIKey, error)

	// TouchLastUsed records a successful authentication.
	TouchLastUsed(ctx context.Context, keyID string, at time.Time) error
}

// SQLiteKeyRepository implements KeyRepository using SQLite.
type SQLiteKeyRepository struct {
	db *sql.DB
}

// NewKeyRepository creates a new SQLite-backed key repository.
func NewKeyRepository(db *sql.DB) *SQLiteKeyRepository {
	return &SQLiteKeyRepository{db: db}
}

const selectKeyColumns = `SELECT id, device_id, key_hash, revoked, last_used_at, created_date, updated_date FROM api_keys`

// Issue inserts the key inside one transaction. The UNIQUE(device_id)
// constraint settles concurrent issues for the same device.
func (r *SQLiteKeyRepository) Issue(ctx context.Context, deviceID, keyHash string) (*APIKey, error) {
	now := time.Now().UTC().Truncate(time.Second)
	key := &APIKey{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		KeyHash:   keyHash,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM devices WHERE id = ?", deviceID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return device.ErrDeviceNotFound
		}
		if err != nil {
			return fmt.Errorf("checking device: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO api_keys (id, device_id, key_hash, revoked, created_date, updated_date)
			 VALUES (?, ?, ?, 0, ?, ?)`,
			key.ID, key.DeviceID, key.KeyHash, formatTime(now), formatTime(now),
		)
		switch {
		case database.IsForeignKeyViolation(err):
			return device.ErrDeviceNotFound
		case database.IsUniqueViolation(err):
			return ErrKeyExists
		case err != nil:
			return fmt.Errorf("inserting api key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return key, nil
}

// FindByDevice retrieves the key row for a device.
func (r *SQLiteKeyRepository) FindByDevice(ctx context.Context, deviceID string) (*APIKey, error) {
	key, err := scanKey(r.db.QueryRowContext(ctx, selectKeyColumns+" WHERE device_id = ?", deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting api key: %w", err)
	}
	return key, nil
}

// Revoke sets the revoked flag.
func (r *SQLiteKeyRepository) Revoke(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE api_keys SET revoked = 1, updated_date = ? WHERE id = ? AND revoked = 0",
		formatTime(time.Now()), keyID)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	return nil
}

// Refresh swaps the digest and re-activates the key in one transaction.
func (r *SQLiteKeyRepository) Refresh(ctx context.Context, deviceID, keyHash string) (*APIKey, error) {
	var key *APIKey

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE api_keys SET key_hash = ?, revoked = 0, updated_date = ? WHERE device_id = ?",
			keyHash, formatTime(time.Now()), deviceID)
		if database.IsUniqueViolation(err) {
			return ErrKeyExists
		}
		if err != nil {
			return fmt.Errorf("refreshing api key: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite driver always reports rows affected
			return ErrKeyNotFound
		}

		key, err = scanKey(tx.QueryRowContext(ctx, selectKeyColumns+" WHERE device_id = ?", deviceID))
		if err != nil {
			return fmt.Errorf("reading refreshed api key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return key, nil
}

// TouchLastUsed stamps last_used_at. A key deleted in the meantime is not an error.
func (r *SQLiteKeyRepository) TouchLastUsed(ctx context.Context, keyID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = ? WHERE id = ?", formatTime(at), keyID)
	if err != nil {
		return fmt.Errorf("updating api key last used: %w", err)
	}
	return nil
}

func scanKey(row *sql.Row) (*APIKey, error) {
	var k APIKey
	var revoked int
	var lastUsed sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&k.ID, &k.DeviceID, &k.KeyHash, &revoked, &lastUsed, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	k.Revoked = revoked != 0
	k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	k.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	if lastUsed.Valid {
		if t, err := time.Parse(time.RFC3339, lastUsed.String); err == nil {
			k.LastUsedAt = &t
		}
	}

	return &k, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
