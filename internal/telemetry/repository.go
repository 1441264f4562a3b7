package telemetry

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

// Repository persists telemetry records.
type Repository interface {
	// Create stores a record, assigning ID and CreatedAt.
	// Returns device.ErrDeviceNotFound if the device row is gone.
	Create(ctx context.Context, rec *Record) error

	// GetByID returns ErrRecordNotFound for an unknown ID.
	GetByID(ctx context.Context, id string) (*Record, error)

	// ListByDevice returns records oldest first. Never nil.
	ListByDevice(ctx context.Context, deviceID string, skip, limit int) ([]Record, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed telemetry repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts the record. The foreign key on device_id rejects records
// for devices deleted after the caller checked.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now().UTC().Truncate(time.Second)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO telemetry_records (id, device_id, data, created_date) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.DeviceID, string(rec.Data), rec.CreatedAt.Format(time.RFC3339),
	)
	if database.IsForeignKeyViolation(err) {
		return device.ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("inserting telemetry record: %w", err)
	}
	return nil
}

// GetByID retrieves one record.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx,
		"SELECT id, device_id, data, created_date FROM telemetry_records WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting telemetry record: %w", err)
	}
	return rec, nil
}

// ListByDevice pages through a device's records in insertion order.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string, skip, limit int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, data, created_date FROM telemetry_records
		 WHERE device_id = ? ORDER BY rowid LIMIT ? OFFSET ?`,
		deviceID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning telemetry record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (*Record, error) {
	var rec Record
	var data, createdAt string
	if err := scanner.Scan(&rec.ID, &rec.DeviceID, &data, &createdAt); err != nil {
		return nil, err
	}
	rec.Data = []byte(data)
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	return &rec, nil
}
