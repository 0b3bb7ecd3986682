// Package sqlite implements the repository interfaces on SQLite.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary builds without a C
// toolchain and cross-compiles like any other Go program.
//
// WHY sqlx ON TOP?
// database/sql makes us Scan column by column. sqlx adds Get/Select that
// fill a struct from `db:"..."` tags, which keeps the row mapping in one
// place (accountRow) instead of repeating Scan lists in every query.
//
// CONCURRENCY:
// SQLite allows one writer at a time. We cap the pool at a single connection,
// which also makes ":memory:" databases behave (each new connection to
// ":memory:" would otherwise see its own empty database). Lost updates between
// two readers of the same account are caught by the version column, see
// Update in account.go.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps the sqlx handle and implements repository.Store.
type DB struct {
	conn *sqlx.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/discord-lookup.db" -> file on disk
//   - ":memory:"               -> throwaway database, used by tests
func New(dbPath string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate brings the schema up to date. Every step is idempotent.
//
// Timestamps are stored as Unix milliseconds in INTEGER columns. That keeps
// day comparisons for the daily credit exact and avoids driver-specific
// DATETIME text formats.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id         TEXT NOT NULL UNIQUE,
			username            TEXT NOT NULL,
			avatar              TEXT NOT NULL DEFAULT '',
			balance             INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			last_balance_update INTEGER,
			is_admin            INTEGER NOT NULL DEFAULT 0,
			version             INTEGER NOT NULL DEFAULT 1,
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating accounts table: %w", err)
	}

	// Local username/password accounts.
	if err := db.addColumnIfNotExists("accounts", "password_hash",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding password_hash to accounts: %w", err)
	}

	// One row per history entry; newest first is ORDER BY id DESC.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS account_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id  INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			kind        TEXT NOT NULL,
			discord_id  TEXT NOT NULL,
			created_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_account_history_lookup
			ON account_history(account_id, kind, id);
	`)
	if err != nil {
		return fmt.Errorf("creating account_history table: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column only when pragma_table_info lacks it,
// so ALTER TABLE migrations can run on every start.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.Get(&count,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
