// Package repository declares the storage contracts the services depend on.
// Concrete backends live in sub-packages (sqlite, postgres, memory).
package repository

import (
	"context"

	"github.com/sakif/discord-lookup/internal/model"
)

// AccountRepository stores accounts and their history lists.
//
// Update is optimistic: it only succeeds when acct.Version matches the stored
// row, and bumps acct.Version on success. A stale version returns an
// apperror.ErrConflict error, a missing row apperror.ErrNotFound.
//
// GetByID and GetByExternalID return the account with all three history
// lists loaded, most recent first.
type AccountRepository interface {
	Create(ctx context.Context, acct *model.Account) error
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Account, error)
	Update(ctx context.Context, acct *model.Account) error
	AddHistory(ctx context.Context, accountID int64, kind model.HistoryKind, discordID string) error
	History(ctx context.Context, accountID int64, kind model.HistoryKind) ([]string, error)
}

// Store is an AccountRepository that owns a resource needing cleanup.
type Store interface {
	AccountRepository
	Close() error
}
