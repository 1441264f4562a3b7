package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/telemetry-core/internal/infrastructure/database"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device with its key metadata.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// Exists reports whether a device row is present.
	Exists(ctx context.Context, id string) (bool, error)

	// List retrieves a page of devices in insertion order.
	List(ctx context.Context, offset, limit int) ([]Device, error)

	// Create inserts a new device, assigning ID and timestamps.
	// With uniqueName set, returns ErrDeviceExists if the name is taken.
	Create(ctx context.Context, device *Device, uniqueName bool) error

	// Update loads the device, lets mutate change it and stores name,
	// description and notes, all in one transaction. An error from mutate
	// aborts the update and is returned as is.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, id string, mutate func(*Device) error, uniqueName bool) (*Device, error)

	// Delete removes a device and its API key.
	// Returns ErrDeviceNotFound or ErrDeviceHasTelemetry.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite device repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDeviceColumns = `
	SELECT d.id, d.name, d.description, d.notes, d.created_date, d.updated_date,
	       k.id, k.created_date, k.revoked
	FROM devices d
	LEFT JOIN api_keys k ON k.device_id = d.id`

// GetByID retrieves a device by its ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, selectDeviceColumns+" WHERE d.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// Exists checks for the device row without loading it.
func (r *SQLiteRepository) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM devices WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking device existence: %w", err)
	}
	return true, nil
}

// List returns up to limit devices after skipping offset, oldest first.
func (r *SQLiteRepository) List(ctx context.Context, offset, limit int) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		selectDeviceColumns+" ORDER BY d.rowid LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := make([]Device, 0, limit)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device, uniqueName bool) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if device.Notes == nil {
		device.Notes = map[string]any{}
	}
	now := time.Now().UTC().Truncate(time.Second)
	device.CreatedAt = now
	device.UpdatedAt = now
	device.APIKeys = []KeyInfo{}

	notes, err := json.Marshal(device.Notes)
	if err != nil {
		return fmt.Errorf("marshalling notes: %w", err)
	}

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if uniqueName {
			if err := checkNameFree(ctx, tx, device.Name, ""); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO devices (id, name, description, notes, created_date, updated_date)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			device.ID, device.Name, nullableString(device.Description), string(notes),
			formatTime(now), formatTime(now),
		)
		if database.IsUniqueViolation(err) {
			return ErrDeviceExists
		}
		if err != nil {
			return fmt.Errorf("inserting device: %w", err)
		}
		return nil
	})
}

// Update reads, mutates and writes a device inside a single transaction so
// that concurrent partial updates cannot overwrite each other's fields.
func (r *SQLiteRepository) Update(ctx context.Context, id string, mutate func(*Device) error, uniqueName bool) (*Device, error) {
	var device *Device
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		d, err := scanDevice(tx.QueryRowContext(ctx, selectDeviceColumns+" WHERE d.id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDeviceNotFound
		}
		if err != nil {
			return fmt.Errorf("querying device: %w", err)
		}

		if err := mutate(d); err != nil {
			return err
		}
		if d.Notes == nil {
			d.Notes = map[string]any{}
		}
		notes, err := json.Marshal(d.Notes)
		if err != nil {
			return fmt.Errorf("marshalling notes: %w", err)
		}

		if uniqueName {
			if err := checkNameFree(ctx, tx, d.Name, id); err != nil {
				return err
			}
		}

		now := time.Now().UTC().Truncate(time.Second)
		if _, err := tx.ExecContext(ctx,
			`UPDATE devices SET name = ?, description = ?, notes = ?, updated_date = ?
			 WHERE id = ?`,
			d.Name, nullableString(d.Description), string(notes), formatTime(now), id,
		); err != nil {
			return fmt.Errorf("updating device: %w", err)
		}
		d.UpdatedAt = now
		device = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

// Delete removes a device. The API key row goes with it (ON DELETE CASCADE);
// telemetry rows block the delete.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var records int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM telemetry_records WHERE device_id = ?", id,
		).Scan(&records); err != nil {
			return fmt.Errorf("counting telemetry: %w", err)
		}
		if records > 0 {
			return ErrDeviceHasTelemetry
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
		if database.IsForeignKeyViolation(err) {
			return ErrDeviceHasTelemetry
		}
		if err != nil {
			return fmt.Errorf("deleting device: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // sqlite driver always reports rows affected
			return ErrDeviceNotFound
		}
		return nil
	})
}

// checkNameFree returns ErrDeviceExists when another device already uses name.
func checkNameFree(ctx context.Context, tx *sql.Tx, name, exceptID string) error {
	var one int
	err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM devices WHERE name = ? AND id != ? LIMIT 1", name, exceptID,
	).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("checking device name: %w", err)
	default:
		return ErrDeviceExists
	}
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var description sql.NullString
	var notes, createdAt, updatedAt string
	var keyID, keyCreatedAt sql.NullString
	var keyRevoked sql.NullInt64

	if err := scanner.Scan(&d.ID, &d.Name, &description, &notes, &createdAt, &updatedAt,
		&keyID, &keyCreatedAt, &keyRevoked); err != nil {
		return nil, err
	}

	if description.Valid {
		d.Description = &description.String
	}
	if err := json.Unmarshal([]byte(notes), &d.Notes); err != nil {
		return nil, fmt.Errorf("unmarshalling notes: %w", err)
	}
	if d.Notes == nil {
		d.Notes = map[string]any{}
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	d.APIKeys = []KeyInfo{}
	if keyID.Valid {
		info := KeyInfo{ID: keyID.String, DeviceID: d.ID, Revoked: keyRevoked.Int64 != 0}
		info.CreatedAt, _ = time.Parse(time.RFC3339, keyCreatedAt.String) //nolint:errcheck // format is controlled
		d.APIKeys = append(d.APIKeys, info)
	}

	return &d, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
