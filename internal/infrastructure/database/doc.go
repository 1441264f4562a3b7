// Package database provides SQLite connectivity for the telemetry core.
//
// This package manages:
//   - The connection pool, opened in WAL mode with foreign keys enforced
//   - Versioned schema migrations read from an fs.FS
//   - Transaction scoping and constraint error classification for repositories
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//   - API keys are never stored in plaintext; only salted hashes reach this layer
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Each migration is applied in its own
// transaction and recorded in schema_migrations.
package database
