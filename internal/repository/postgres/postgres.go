// Package postgres implements repository.Store on PostgreSQL through sqlx and
// lib/pq. Selected with STORE_DRIVER=postgres and DATABASE_URL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps a pooled sqlx handle.
type DB struct {
	conn *sqlx.DB
}

// New connects to dsn, tunes the pool and creates the schema if missing.
// dsn accepts both URL ("postgres://...") and key=value forms.
func New(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id                  BIGSERIAL PRIMARY KEY,
			external_id         TEXT NOT NULL UNIQUE,
			username            TEXT NOT NULL,
			avatar              TEXT NOT NULL DEFAULT '',
			password_hash       TEXT NOT NULL DEFAULT '',
			balance             INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			last_balance_update TIMESTAMPTZ,
			is_admin            BOOLEAN NOT NULL DEFAULT FALSE,
			version             BIGINT NOT NULL DEFAULT 1,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS account_history (
			id          BIGSERIAL PRIMARY KEY,
			account_id  BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			kind        TEXT NOT NULL,
			discord_id  TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_account_history_lookup
			ON account_history(account_id, kind, id);
	`)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
