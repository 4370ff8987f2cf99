// Package database provides SQLite connectivity for the identity store.
//
// The store holds users, roles, permissions, their grants, refresh token
// digests and the audit log. Schema changes are embedded SQL migrations
// (see the top-level migrations package) applied at startup.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600; it contains password hashes
//   - Refresh tokens are stored only as SHA-256 digests
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
