// Package database provides SQLite database connectivity for the Kost RFID core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations embedded into the binary
//   - Connection pooling and lifecycle management
//
// The database backs the standalone card store (backend.mode: sqlite) and
// the reader status history. In http mode the portal's REST backend owns
// cards and only the history lives here.
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations:
//
// SQL files named YYYYMMDD_HHMMSS_name.up.sql (and optional .down.sql)
// are registered by the migrations package and tracked in
// schema_migrations. serve applies pending ones at startup; the
// kostrfid migrate command also rolls back and reports status. New
// columns must be NULLABLE or have a DEFAULT so older binaries keep
// working after an upgrade.
package database
