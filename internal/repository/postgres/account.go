package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/model"
	"github.com/sakif/discord-lookup/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// SQLSTATE codes we translate into domain errors.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type accountRow struct {
	ID                int64        `db:"id"`
	ExternalID        string       `db:"external_id"`
	Username          string       `db:"username"`
	Avatar            string       `db:"avatar"`
	PasswordHash      string       `db:"password_hash"`
	Balance           int          `db:"balance"`
	LastBalanceUpdate sql.NullTime `db:"last_balance_update"`
	IsAdmin           bool         `db:"is_admin"`
	Version           int64        `db:"version"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
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
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.LastBalanceUpdate.Valid {
		t := r.LastBalanceUpdate.Time.UTC()
		acct.LastBalanceUpdate = &t
	}
	return acct
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func (db *DB) Create(ctx context.Context, acct *model.Account) error {
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := db.conn.QueryRowxContext(ctx,
		`INSERT INTO accounts (external_id, username, avatar, password_hash, balance,
		                       last_balance_update, is_admin, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)
		 RETURNING id`,
		acct.ExternalID,
		acct.Username,
		acct.Avatar,
		acct.PasswordHash,
		acct.Balance,
		nullTime(acct.LastBalanceUpdate),
		acct.IsAdmin,
		now,
	).Scan(&acct.ID)
	if err != nil {
		if pqCode(err) == uniqueViolation {
			return apperror.Conflict("account", acct.ExternalID)
		}
		return fmt.Errorf("postgres: inserting account %s: %w", acct.ExternalID, err)
	}

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

func (db *DB) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var row accountRow
	err := db.conn.GetContext(ctx, &row, selectAccount+` WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("postgres: getting account %d: %w", id, err)
	}
	return db.withHistory(ctx, row.toModel())
}

func (db *DB) GetByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	var row accountRow
	err := db.conn.GetContext(ctx, &row, selectAccount+` WHERE external_id = $1`, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", externalID)
		}
		return nil, fmt.Errorf("postgres: getting account %s: %w", externalID, err)
	}
	return db.withHistory(ctx, row.toModel())
}

// Update is the same compare-and-swap on version as the sqlite store.
func (db *DB) Update(ctx context.Context, acct *model.Account) error {
	now := time.Now().UTC().Truncate(time.Microsecond)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts
		 SET username = $1, avatar = $2, password_hash = $3, balance = $4,
		     last_balance_update = $5, is_admin = $6, version = version + 1, updated_at = $7
		 WHERE id = $8 AND version = $9`,
		acct.Username,
		acct.Avatar,
		acct.PasswordHash,
		acct.Balance,
		nullTime(acct.LastBalanceUpdate),
		acct.IsAdmin,
		now,
		acct.ID,
		acct.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: updating account %d: %w", acct.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected for account %d: %w", acct.ID, err)
	}
	if n == 0 {
		var exists bool
		if err := db.conn.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, acct.ID); err != nil {
			return fmt.Errorf("postgres: checking account %d: %w", acct.ID, err)
		}
		if !exists {
			return apperror.NotFound("account", strconv.FormatInt(acct.ID, 10))
		}
		return apperror.Conflict("account", strconv.FormatInt(acct.ID, 10))
	}

	acct.Version++
	acct.UpdatedAt = now
	return nil
}

func (db *DB) AddHistory(ctx context.Context, accountID int64, kind model.HistoryKind, discordID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO account_history (account_id, kind, discord_id) VALUES ($1, $2, $3)`,
		accountID, string(kind), discordID,
	)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return apperror.NotFound("account", strconv.FormatInt(accountID, 10))
		}
		return fmt.Errorf("postgres: adding %s history for account %d: %w", kind, accountID, err)
	}
	return nil
}

func (db *DB) History(ctx context.Context, accountID int64, kind model.HistoryKind) ([]string, error) {
	ids := []string{}
	err := db.conn.SelectContext(ctx, &ids,
		`SELECT discord_id FROM account_history
		 WHERE account_id = $1 AND kind = $2
		 ORDER BY id DESC`,
		accountID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing %s history for account %d: %w", kind, accountID, err)
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
		 WHERE account_id = $1
		 ORDER BY id DESC`,
		acct.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: loading history for account %d: %w", acct.ID, err)
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
