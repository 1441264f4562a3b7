package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/telemetry-core/internal/infrastructure/database"
	"github.com/nerrad567/telemetry-core/migrations"
)

const testSalt = "test-salt"

// testDB creates a temporary SQLite database with the full schema applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

// seedDevice inserts a bare device row and returns its ID.
func seedDevice(t *testing.T, db *sql.DB, name string) string {
	t.Helper()

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(
		"INSERT INTO devices (id, name, created_date, updated_date) VALUES (?, ?, ?, ?)",
		id, name, now, now,
	)
	if err != nil {
		t.Fatalf("seeding device %q: %v", name, err)
	}
	return id
}

// recordingPublisher captures key lifecycle events.
type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) PublishKeyEvent(event, deviceID, _ string) {
	p.events = append(p.events, event+":"+deviceID)
}
