// Package database provides SQLite connectivity for the LoRa bridge.
//
// The bridge keeps its device snapshot and settings in a small key/value
// table (see migrations/). This package manages:
//   - Database connection with optional WAL mode
//   - Embedded schema migrations applied at startup
//   - Transaction helper for batched preference writes
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive. Each file pair is named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
package database
