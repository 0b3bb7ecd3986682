package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sakif/discord-lookup/internal/discord"
	"github.com/sakif/discord-lookup/internal/model"
	"github.com/sakif/discord-lookup/internal/repository/memory"
	"github.com/sakif/discord-lookup/internal/roulette"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// Real snowflakes with known creation dates.
const (
	id2020 = "661720242585600000"  // 2020-01-01
	id2016 = "192609150566400000"  // 2016-06-15
	id2023 = "1083539718144000000" // 2023-03-10
)

// fixedNow is the clock every test runs on.
var fixedNow = time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProfiles serves Discord users from a map. Unknown ids get a plain
// user; ids in fail return that error.
type fakeProfiles struct {
	mu      sync.Mutex
	users   map[string]*discord.User
	fail    map[string]error
	fetched []string
}

func (f *fakeProfiles) GetUser(ctx context.Context, id string) (*discord.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, id)
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return &discord.User{ID: id, Username: "user-" + id}, nil
}

// fakeCandidates is an in-memory CandidateSource.
type fakeCandidates struct {
	pool    []string
	poolErr error
	friends []roulette.Friend
}

func (f *fakeCandidates) Pool(ctx context.Context) ([]string, error) {
	if f.poolErr != nil {
		return nil, f.poolErr
	}
	return append([]string(nil), f.pool...), nil
}

func (f *fakeCandidates) Friends(ctx context.Context) ([]roulette.Friend, error) {
	return f.friends, nil
}

// newAccountService returns a service on a fresh memory store with the
// clock pinned to fixedNow.
func newAccountService(t *testing.T) (*AccountService, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := NewAccountService(store, time.UTC, discardLogger())
	svc.now = func() time.Time { return fixedNow }
	return svc, store
}

// seedAccount creates an account and returns it.
func seedAccount(t *testing.T, store *memory.Store, acct *model.Account) *model.Account {
	t.Helper()
	if err := store.Create(context.Background(), acct); err != nil {
		t.Fatalf("seeding account %q: %v", acct.ExternalID, err)
	}
	return acct
}

func ptrTime(t time.Time) *time.Time { return &t }
