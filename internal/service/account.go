package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/balance"
	"github.com/sakif/discord-lookup/internal/model"
	"github.com/sakif/discord-lookup/internal/repository"
)

// maxUpdateAttempts bounds re-reads after an optimistic conflict. Writers in
// this process are already serialized per account, so a conflict means
// another process (or replica) touched the row.
const maxUpdateAttempts = 3

// AccountService owns balance and history mutations.
//
// CONCURRENCY:
// Every read-modify-write on an account runs under that account's entry in
// a keyed mutex, and the final write is a versioned Update. The mutex
// closes the spend-then-check race inside one process; the version check
// catches writers in other processes sharing the same database.
type AccountService struct {
	accounts repository.AccountRepository
	loc      *time.Location
	locks    *keyedMutex
	logger   *slog.Logger

	now func() time.Time
}

// NewAccountService wires the service. loc is the timezone whose calendar
// days gate the daily credit; nil means UTC.
func NewAccountService(accounts repository.AccountRepository, loc *time.Location, logger *slog.Logger) *AccountService {
	if loc == nil {
		loc = time.UTC
	}
	return &AccountService{
		accounts: accounts,
		loc:      loc,
		locks:    newKeyedMutex(),
		logger:   logger,
		now:      time.Now,
	}
}

// Balance runs the daily accrual for account id and returns the account.
// It is safe to call on every session check: the second call on the same
// calendar day writes nothing.
func (s *AccountService) Balance(ctx context.Context, id int64) (*model.Account, error) {
	return s.mutate(ctx, id, func(acct *model.Account) (bool, error) {
		return balance.Accrue(acct, s.now(), s.loc), nil
	})
}

// Spend debits a self-service amount, which must be negative. The daily
// credit is applied first so a user's first action of the day can spend it.
// A debit below zero is rejected with apperror.ErrInsufficientBalance and
// leaves the balance as it was.
func (s *AccountService) Spend(ctx context.Context, id int64, amount int) (*model.Account, error) {
	if amount >= 0 {
		return nil, apperror.ValidationFailed("amount", "amount must be a negative number")
	}

	acct, err := s.mutate(ctx, id, func(acct *model.Account) (bool, error) {
		accrued := balance.Accrue(acct, s.now(), s.loc)
		if err := balance.Adjust(acct, amount); err != nil {
			// keep the accrual even though the spend failed
			return accrued, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("balance spent",
		slog.Int64("accountID", id),
		slog.Int("amount", amount),
		slog.Int("balance", acct.Balance),
	)
	return acct, nil
}

// Refund credits amount back after a paid action failed. amount must be
// positive.
func (s *AccountService) Refund(ctx context.Context, id int64, amount int) (*model.Account, error) {
	if amount <= 0 {
		return nil, apperror.ValidationFailed("amount", "refund must be positive")
	}
	return s.mutate(ctx, id, func(acct *model.Account) (bool, error) {
		if err := balance.Adjust(acct, amount); err != nil {
			return false, err
		}
		return true, nil
	})
}

// AdminAdjust applies a signed delta to the account with Discord id
// targetExternalID. The actor must be an admin. Debits follow the same
// reject rule as Spend.
func (s *AccountService) AdminAdjust(ctx context.Context, actorID int64, targetExternalID string, amount int) (*model.Account, error) {
	actor, err := s.accounts.GetByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("service/account: loading actor %d: %w", actorID, err)
	}
	if !actor.IsAdmin {
		return nil, apperror.Forbidden("Unauthorized. Admin access required.")
	}
	if targetExternalID == "" {
		return nil, apperror.ValidationFailed("targetDiscordId", "targetDiscordId is required")
	}
	if amount == 0 {
		return nil, apperror.ValidationFailed("amount", "amount must not be zero")
	}

	target, err := s.accounts.GetByExternalID(ctx, targetExternalID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrNotFound,
				Message: "Target user not found",
				Field:   "targetDiscordId",
			}
		}
		return nil, fmt.Errorf("service/account: loading target %s: %w", targetExternalID, err)
	}

	acct, err := s.mutate(ctx, target.ID, func(acct *model.Account) (bool, error) {
		if err := balance.Adjust(acct, amount); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("balance adjusted by admin",
		slog.Int64("actorID", actorID),
		slog.Int64("targetID", acct.ID),
		slog.Int("amount", amount),
		slog.Int("balance", acct.Balance),
	)
	return acct, nil
}

// RecordHistory puts discordID at the front of the account's kind list.
func (s *AccountService) RecordHistory(ctx context.Context, id int64, kind model.HistoryKind, discordID string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.accounts.AddHistory(ctx, id, kind, discordID); err != nil {
		return fmt.Errorf("service/account: recording %s history: %w", kind, err)
	}
	return nil
}

// History returns the kind list, most recent first. kind is the raw path
// segment; unknown values are a validation error.
func (s *AccountService) History(ctx context.Context, id int64, kind string) ([]string, error) {
	k, err := model.ParseHistoryKind(kind)
	if err != nil {
		return nil, apperror.ValidationFailed("type", "Invalid history type")
	}

	ids, err := s.accounts.History(ctx, id, k)
	if err != nil {
		return nil, fmt.Errorf("service/account: listing %s history: %w", k, err)
	}
	return ids, nil
}

// mutate loads account id under its lock, applies fn, and writes the result
// back when fn reports a change. When fn returns changed=true together with
// an error, the change is persisted and the error returned afterwards.
func (s *AccountService) mutate(ctx context.Context, id int64, fn func(*model.Account) (bool, error)) (*model.Account, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		acct, err := s.accounts.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("service/account: loading account %d: %w", id, err)
		}

		changed, fnErr := fn(acct)
		if !changed {
			if fnErr != nil {
				return nil, fnErr
			}
			return acct, nil
		}

		err = s.accounts.Update(ctx, acct)
		if errors.Is(err, apperror.ErrConflict) {
			s.logger.Warn("account changed concurrently, retrying",
				slog.Int64("accountID", id),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("service/account: saving account %d: %w", id, err)
		}
		if fnErr != nil {
			return nil, fnErr
		}
		return acct, nil
	}
	return nil, fmt.Errorf("service/account: saving account %d: %w", id,
		apperror.Conflict("account", fmt.Sprint(id)))
}
