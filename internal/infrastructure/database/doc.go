// Package database provides the SQLite connection used by the Yanzi bridge.
//
// The bridge keeps two tables: the catalogue of data sources discovered at
// the configured location and the last sample received for each of them.
// Both survive restarts so the status API can answer before the first
// refresh completes.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations live in the top-level migrations package as
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql pairs and are additive:
// new columns must be nullable or carry a default.
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
package database
