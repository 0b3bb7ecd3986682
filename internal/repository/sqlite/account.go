package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/model"
	"github.com/sakif/discord-lookup/internal/repository"
)

// compile-time check that *DB implements repository.Store
var _ repository.Store = (*DB)(nil)

// accountRow mirrors the accounts table.
type accountRow struct {
	ID                int64         `db:"id"`
	ExternalID        string        `db:"external_id"`
	Username          string        `db:"username"`
	Avatar            string        `db:"avatar"`
	PasswordHash      string        `db:"password_hash"`
	Balance           int           `db:"balance"`
	LastBalanceUpdate sql.NullInt64 `db:"last_balance_update"`
	IsAdmin           bool          `db:"is_admin"`
	Version           int64         `db:"version"`
	CreatedAt         int64         `db:"created_at"`
	UpdatedAt         int64         `db:"updated_at"`
}

const selectAccount = `
	SELECT id, external_id, username, avatar, password_hash, balance,
	       last_balance_update, is_admin, version, created_at, updated_at
	FROM accounts`

func (r accountRow) toModel() *model.Account {
	acct := &model.Account{
		ID:           r.ID,
		ExternalID:   r.ExternalID,
		Username:     r.Username,
		Avatar:       r.Avatar,
		PasswordHash: r.PasswordHash,
		Balance:      r.Balance,
		IsAdmin:      r.IsAdmin,
		Version:      r.Version,
		CreatedAt:    fromMillis(r.CreatedAt),
		UpdatedAt:    fromMillis(r.UpdatedAt),
	}
	if r.LastBalanceUpdate.Valid {
		t := fromMillis(r.LastBalanceUpdate.Int64)
		acct.LastBalanceUpdate = &t
	}
	return acct
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// Create inserts acct and fills ID, Version and timestamps.
// A duplicate external id is reported as apperror.ErrConflict.
func (db *DB) Create(ctx context.Context, acct *model.Account) error {
	now := time.Now().UTC().Truncate(time.Millisecond)

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (external_id, username, avatar, password_hash, balance,
		                       last_balance_update, is_admin, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		acct.ExternalID,
		acct.Username,
		acct.Avatar,
		acct.PasswordHash,
		acct.Balance,
		nullMillis(acct.LastBalanceUpdate),
		acct.IsAdmin,
		now.UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperror.Conflict("account", acct.ExternalID)
		}
		return fmt.Errorf("sqlite: inserting account %s: %w", acct.ExternalID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new account id: %w", err)
	}

	acct.ID = id
	acct.Version = 1
	acct.CreatedAt = now
	acct.UpdatedAt = now
	for _, k := range model.HistoryKinds {
		if acct.History(k) == nil {
			acct.SetHistory(k, []string{})
		}
	}
	return nil
}

// GetByID loads one account with its history lists.
func (db *DB) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var row accountRow
	err := db.conn.GetContext(ctx, &row, selectAccount+` WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting account %d: %w", id, err)
	}
	return db.withHistory(ctx, row.toModel())
}

// GetByExternalID loads the account for a Discord id or "local:<name>" key.
func (db *DB) GetByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	var row accountRow
	err := db.conn.GetContext(ctx, &row, selectAccount+` WHERE external_id = ?`, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", externalID)
		}
		return nil, fmt.Errorf("sqlite: getting account %s: %w", externalID, err)
	}
	return db.withHistory(ctx, row.toModel())
}

// Update writes profile and balance fields if acct.Version is still current.
//
// OPTIMISTIC LOCKING:
//
//	UPDATE ... SET version = version + 1 WHERE id = ? AND version = ?
//
// If someone else updated the row since we read it, the WHERE clause matches
// nothing and we return a conflict instead of silently overwriting their
// balance change.
func (db *DB) Update(ctx context.Context, acct *model.Account) error {
	now := time.Now().UTC().Truncate(time.Millisecond)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts
		 SET username = ?, avatar = ?, password_hash = ?, balance = ?,
		     last_balance_update = ?, is_admin = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		acct.Username,
		acct.Avatar,
		acct.PasswordHash,
		acct.Balance,
		nullMillis(acct.LastBalanceUpdate),
		acct.IsAdmin,
		now.UnixMilli(),
		acct.ID,
		acct.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating account %d: %w", acct.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected for account %d: %w", acct.ID, err)
	}
	if n == 0 {
		return db.missingOrStale(ctx, acct.ID)
	}

	acct.Version++
	acct.UpdatedAt = now
	return nil
}

func (db *DB) missingOrStale(ctx context.Context, id int64) error {
	var exists int
	err := db.conn.GetContext(ctx, &exists, `SELECT COUNT(*) FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: checking account %d: %w", id, err)
	}
	if exists == 0 {
		return apperror.NotFound("account", strconv.FormatInt(id, 10))
	}
	return apperror.Conflict("account", strconv.FormatInt(id, 10))
}

// AddHistory records discordID as the newest entry of kind.
func (db *DB) AddHistory(ctx context.Context, accountID int64, kind model.HistoryKind, discordID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO account_history (account_id, kind, discord_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		accountID, string(kind), discordID, time.Now().UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return apperror.NotFound("account", strconv.FormatInt(accountID, 10))
		}
		return fmt.Errorf("sqlite: adding %s history for account %d: %w", kind, accountID, err)
	}
	return nil
}

// History returns one list, most recent first. Never nil.
func (db *DB) History(ctx context.Context, accountID int64, kind model.HistoryKind) ([]string, error) {
	ids := []string{}
	err := db.conn.SelectContext(ctx, &ids,
		`SELECT discord_id FROM account_history
		 WHERE account_id = ? AND kind = ?
		 ORDER BY id DESC`,
		accountID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing %s history for account %d: %w", kind, accountID, err)
	}
	return ids, nil
}

type historyRow struct {
	Kind      string `db:"kind"`
	DiscordID string `db:"discord_id"`
}

func (db *DB) withHistory(ctx context.Context, acct *model.Account) (*model.Account, error) {
	var rows []historyRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT kind, discord_id FROM account_history
		 WHERE account_id = ?
		 ORDER BY id DESC`,
		acct.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading history for account %d: %w", acct.ID, err)
	}

	for _, k := range model.HistoryKinds {
		acct.SetHistory(k, []string{})
	}
	for _, r := range rows {
		kind := model.HistoryKind(r.Kind)
		acct.SetHistory(kind, append(acct.History(kind), r.DiscordID))
	}
	return acct, nil
}
