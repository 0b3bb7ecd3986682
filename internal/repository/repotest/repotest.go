// Package repotest is a behaviour suite every AccountRepository backend must
// pass. Backend test files call Run with a constructor for a fresh, empty
// repository.
package repotest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/model"
	"github.com/sakif/discord-lookup/internal/repository"
)

// Factory returns an empty repository. Cleanup is the factory's job.
type Factory func(t *testing.T) repository.AccountRepository

// Run executes the suite as subtests.
func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAssignsIdentity", func(t *testing.T) { testCreate(t, newRepo(t)) })
	t.Run("CreateDuplicateExternalID", func(t *testing.T) { testCreateDuplicate(t, newRepo(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newRepo(t)) })
	t.Run("GetByExternalID", func(t *testing.T) { testGetByExternalID(t, newRepo(t)) })
	t.Run("UpdateBumpsVersion", func(t *testing.T) { testUpdate(t, newRepo(t)) })
	t.Run("UpdateStaleVersion", func(t *testing.T) { testUpdateStale(t, newRepo(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newRepo(t)) })
	t.Run("HistoryMostRecentFirst", func(t *testing.T) { testHistoryOrder(t, newRepo(t)) })
	t.Run("HistoryKindsAreSeparate", func(t *testing.T) { testHistoryKinds(t, newRepo(t)) })
	t.Run("UpdateKeepsHistory", func(t *testing.T) { testUpdateKeepsHistory(t, newRepo(t)) })
}

func newAccount(externalID string) *model.Account {
	return &model.Account{ExternalID: externalID, Username: "user-" + externalID}
}

func mustCreate(t *testing.T, repo repository.AccountRepository, acct *model.Account) *model.Account {
	t.Helper()
	if err := repo.Create(context.Background(), acct); err != nil {
		t.Fatalf("Create(%s) error = %v", acct.ExternalID, err)
	}
	return acct
}

func testCreate(t *testing.T, repo repository.AccountRepository) {
	a := mustCreate(t, repo, newAccount("661720242585600000"))
	b := mustCreate(t, repo, newAccount("192609150566400000"))

	if a.ID == 0 || b.ID == 0 || a.ID == b.ID {
		t.Fatalf("IDs = %d, %d, want distinct non-zero", a.ID, b.ID)
	}
	if a.Version != 1 {
		t.Errorf("Version = %d, want 1", a.Version)
	}
	if a.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	got, err := repo.GetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Balance != 0 {
		t.Errorf("Balance = %d, want 0", got.Balance)
	}
	if got.LastBalanceUpdate != nil {
		t.Errorf("LastBalanceUpdate = %v, want nil", got.LastBalanceUpdate)
	}
	if got.RouletteHistory == nil || len(got.RouletteHistory) != 0 {
		t.Errorf("RouletteHistory = %#v, want empty non-nil", got.RouletteHistory)
	}
}

func testCreateDuplicate(t *testing.T, repo repository.AccountRepository) {
	mustCreate(t, repo, newAccount("dup"))

	err := repo.Create(context.Background(), newAccount("dup"))
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Create() duplicate error = %v, want ErrConflict", err)
	}
}

func testGetMissing(t *testing.T, repo repository.AccountRepository) {
	_, err := repo.GetByID(context.Background(), 987654)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	_, err = repo.GetByExternalID(context.Background(), "nobody")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByExternalID() error = %v, want ErrNotFound", err)
	}
}

func testGetByExternalID(t *testing.T, repo repository.AccountRepository) {
	created := mustCreate(t, repo, &model.Account{
		ExternalID:   model.LocalPrefix + "alice",
		Username:     "alice",
		PasswordHash: "$2a$04$hash",
		IsAdmin:      true,
	})

	got, err := repo.GetByExternalID(context.Background(), model.LocalPrefix+"alice")
	if err != nil {
		t.Fatalf("GetByExternalID() error = %v", err)
	}
	if got.ID != created.ID || got.PasswordHash != "$2a$04$hash" || !got.IsAdmin {
		t.Errorf("GetByExternalID() = %+v", got)
	}
}

func testUpdate(t *testing.T, repo repository.AccountRepository) {
	acct := mustCreate(t, repo, newAccount("upd"))

	stamp := time.Date(2026, time.October, 16, 8, 30, 0, 0, time.UTC)
	acct.Balance = 12
	acct.LastBalanceUpdate = &stamp
	acct.Username = "renamed"

	if err := repo.Update(context.Background(), acct); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if acct.Version != 2 {
		t.Errorf("Version after Update = %d, want 2", acct.Version)
	}

	got, err := repo.GetByID(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Balance != 12 || got.Username != "renamed" || got.Version != 2 {
		t.Errorf("stored = %+v", got)
	}
	if got.LastBalanceUpdate == nil || !got.LastBalanceUpdate.Equal(stamp) {
		t.Errorf("LastBalanceUpdate = %v, want %v", got.LastBalanceUpdate, stamp)
	}
}

func testUpdateStale(t *testing.T, repo repository.AccountRepository) {
	acct := mustCreate(t, repo, newAccount("stale"))

	first, _ := repo.GetByID(context.Background(), acct.ID)
	second, _ := repo.GetByID(context.Background(), acct.ID)

	first.Balance = 5
	if err := repo.Update(context.Background(), first); err != nil {
		t.Fatalf("first Update() error = %v", err)
	}

	second.Balance = 7
	err := repo.Update(context.Background(), second)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("stale Update() error = %v, want ErrConflict", err)
	}

	got, _ := repo.GetByID(context.Background(), acct.ID)
	if got.Balance != 5 {
		t.Errorf("Balance = %d, want 5 (stale write must not land)", got.Balance)
	}
}

func testUpdateMissing(t *testing.T, repo repository.AccountRepository) {
	err := repo.Update(context.Background(), &model.Account{ID: 424242, Version: 1})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func testHistoryOrder(t *testing.T, repo repository.AccountRepository) {
	ctx := context.Background()
	acct := mustCreate(t, repo, newAccount("hist"))

	for _, id := range []string{"A", "B", "A"} {
		if err := repo.AddHistory(ctx, acct.ID, model.HistoryRoulette, id); err != nil {
			t.Fatalf("AddHistory(%s) error = %v", id, err)
		}
	}

	got, err := repo.History(ctx, acct.ID, model.HistoryRoulette)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if want := []string{"A", "B", "A"}; !reflect.DeepEqual(got, want) {
		t.Errorf("History() = %v, want %v", got, want)
	}

	loaded, _ := repo.GetByID(ctx, acct.ID)
	if !reflect.DeepEqual(loaded.RouletteHistory, got) {
		t.Errorf("GetByID().RouletteHistory = %v, want %v", loaded.RouletteHistory, got)
	}
}

func testHistoryKinds(t *testing.T, repo repository.AccountRepository) {
	ctx := context.Background()
	acct := mustCreate(t, repo, newAccount("kinds"))

	_ = repo.AddHistory(ctx, acct.ID, model.HistoryLookup, "L1")
	_ = repo.AddHistory(ctx, acct.ID, model.HistoryFriend, "F1")

	roulette, err := repo.History(ctx, acct.ID, model.HistoryRoulette)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if roulette == nil || len(roulette) != 0 {
		t.Errorf("roulette history = %#v, want empty non-nil", roulette)
	}

	lookup, _ := repo.History(ctx, acct.ID, model.HistoryLookup)
	if !reflect.DeepEqual(lookup, []string{"L1"}) {
		t.Errorf("lookup history = %v, want [L1]", lookup)
	}
}

func testUpdateKeepsHistory(t *testing.T, repo repository.AccountRepository) {
	ctx := context.Background()
	acct := mustCreate(t, repo, newAccount("keep"))
	_ = repo.AddHistory(ctx, acct.ID, model.HistoryLookup, "L1")

	// acct was loaded before the history entry; Update must not wipe it.
	acct.Balance = 3
	if err := repo.Update(ctx, acct); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := repo.History(ctx, acct.ID, model.HistoryLookup)
	if !reflect.DeepEqual(got, []string{"L1"}) {
		t.Errorf("lookup history after Update = %v, want [L1]", got)
	}
}
