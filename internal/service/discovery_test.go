package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/discord"
	"github.com/sakif/discord-lookup/internal/model"
	"github.com/sakif/discord-lookup/internal/repository/memory"
	"github.com/sakif/discord-lookup/internal/roulette"
)

type discoveryFixture struct {
	svc        *DiscoveryService
	accounts   *AccountService
	store      *memory.Store
	profiles   *fakeProfiles
	candidates *fakeCandidates
}

func newDiscoveryFixture(t *testing.T, pool ...string) *discoveryFixture {
	t.Helper()
	accounts, store := newAccountService(t)
	profiles := &fakeProfiles{users: map[string]*discord.User{}, fail: map[string]error{}}
	candidates := &fakeCandidates{
		pool: pool,
		friends: []roulette.Friend{
			{Username: "Nashi", DiscordID: id2020},
			{Username: "Tomo", DiscordID: id2016},
		},
	}
	sampler := roulette.NewSampler(roulette.NewLockedRand(1), profiles, discardLogger())
	svc := NewDiscoveryService(candidates, profiles, sampler, accounts, 1, discardLogger())
	svc.now = func() time.Time { return fixedNow }
	return &discoveryFixture{
		svc:        svc,
		accounts:   accounts,
		store:      store,
		profiles:   profiles,
		candidates: candidates,
	}
}

func (f *discoveryFixture) viewer(t *testing.T, acct *model.Account) int64 {
	t.Helper()
	return seedAccount(t, f.store, acct).ID
}

func (f *discoveryFixture) history(t *testing.T, id int64, kind model.HistoryKind) []string {
	t.Helper()
	got, err := f.store.History(context.Background(), id, kind)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	return got
}

// =========================================================================
// LOOKUP
// =========================================================================

func TestLookup_DecodesCreationDate(t *testing.T) {
	f := newDiscoveryFixture(t)

	p, err := f.svc.Lookup(context.Background(), 0, id2020)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if p.CreatedAt != "January 1, 2020" {
		t.Errorf("CreatedAt = %q, want %q", p.CreatedAt, "January 1, 2020")
	}
	if p.AccountAge != "6 years, 9 months" {
		t.Errorf("AccountAge = %q, want %q", p.AccountAge, "6 years, 9 months")
	}
}

func TestLookup_InvalidID(t *testing.T) {
	f := newDiscoveryFixture(t)

	_, err := f.svc.Lookup(context.Background(), 0, "12345")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Lookup() error = %v, want ErrValidation", err)
	}
	if len(f.profiles.fetched) != 0 {
		t.Errorf("invalid id still hit Discord: %v", f.profiles.fetched)
	}
}

func TestLookup_NotFoundAndDeleted(t *testing.T) {
	f := newDiscoveryFixture(t)
	f.profiles.fail[id2016] = apperror.NotFound("discord user", id2016)
	f.profiles.users[id2023] = &discord.User{ID: id2023, Username: "Deleted User 5f3a"}

	for _, id := range []string{id2016, id2023} {
		_, err := f.svc.Lookup(context.Background(), 0, id)
		if !errors.Is(err, apperror.ErrNotFound) {
			t.Errorf("Lookup(%s) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestLookup_UpstreamErrorPropagates(t *testing.T) {
	f := newDiscoveryFixture(t)
	f.profiles.fail[id2020] = apperror.Upstream("Discord is unavailable", errors.New("503"))

	_, err := f.svc.Lookup(context.Background(), 0, id2020)
	if !errors.Is(err, apperror.ErrUpstream) {
		t.Errorf("Lookup() error = %v, want ErrUpstream", err)
	}
}

func TestLookup_RecordsHistoryForViewer(t *testing.T) {
	f := newDiscoveryFixture(t)
	viewer := f.viewer(t, &model.Account{ExternalID: "viewer", Username: "v"})

	if _, err := f.svc.Lookup(context.Background(), viewer, id2020); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got := f.history(t, viewer, model.HistoryLookup); len(got) != 1 || got[0] != id2020 {
		t.Errorf("lookup history = %v, want [%s]", got, id2020)
	}
}

// =========================================================================
// ROULETTE
// =========================================================================

func TestRoulette_SkipsSeenProfiles(t *testing.T) {
	// pool [A,B,C] with history [A,B] can only produce C
	f := newDiscoveryFixture(t, id2020, id2016, id2023)
	viewer := f.viewer(t, &model.Account{ExternalID: "viewer", Username: "v"})
	ctx := context.Background()
	_ = f.store.AddHistory(ctx, viewer, model.HistoryRoulette, id2020)
	_ = f.store.AddHistory(ctx, viewer, model.HistoryRoulette, id2016)

	p, err := f.svc.Roulette(ctx, viewer, roulette.Filter{})
	if err != nil {
		t.Fatalf("Roulette() error = %v", err)
	}
	if p.User.ID != id2023 {
		t.Fatalf("draw = %s, want %s", p.User.ID, id2023)
	}

	hist := f.history(t, viewer, model.HistoryRoulette)
	if len(hist) != 3 || hist[0] != id2023 {
		t.Errorf("roulette history = %v, want %s first", hist, id2023)
	}
}

func TestRoulette_RecyclesPoolOnceEverythingIsSeen(t *testing.T) {
	f := newDiscoveryFixture(t, id2020)
	viewer := f.viewer(t, &model.Account{ExternalID: "viewer", Username: "v"})
	_ = f.store.AddHistory(context.Background(), viewer, model.HistoryRoulette, id2020)

	p, err := f.svc.Roulette(context.Background(), viewer, roulette.Filter{})
	if err != nil {
		t.Fatalf("Roulette() error = %v", err)
	}
	if p.User.ID != id2020 {
		t.Errorf("draw = %s, want %s", p.User.ID, id2020)
	}
}

func TestRoulette_YearFilter(t *testing.T) {
	f := newDiscoveryFixture(t, id2020, id2016, id2023)

	p, err := f.svc.Roulette(context.Background(), 0, roulette.Filter{Year: 2016})
	if err != nil {
		t.Fatalf("Roulette() error = %v", err)
	}
	if p.User.ID != id2016 {
		t.Errorf("draw = %s, want %s", p.User.ID, id2016)
	}

	_, err = f.svc.Roulette(context.Background(), 0, roulette.Filter{Year: 2019})
	if !errors.Is(err, apperror.ErrExhausted) {
		t.Errorf("Roulette(2019) error = %v, want ErrExhausted", err)
	}
}

func TestRoulette_NitroFilterUsesFetchedProfile(t *testing.T) {
	f := newDiscoveryFixture(t, id2020, id2016)
	b := "banner"
	f.profiles.users[id2016] = &discord.User{ID: id2016, Username: "nitro", Banner: &b}

	p, err := f.svc.Roulette(context.Background(), 0, roulette.Filter{RequireBanner: true})
	if err != nil {
		t.Fatalf("Roulette() error = %v", err)
	}
	if p.User.ID != id2016 {
		t.Fatalf("draw = %s, want %s", p.User.ID, id2016)
	}

	// the hit is not fetched a second time
	hits := 0
	for _, id := range f.profiles.fetched {
		if id == id2016 {
			hits++
		}
	}
	if hits != 1 {
		t.Errorf("%s fetched %d times, want 1", id2016, hits)
	}
}

func TestRoulette_EmptyPool(t *testing.T) {
	f := newDiscoveryFixture(t)
	f.candidates.poolErr = apperror.Exhausted("No Discord IDs available in the roulette.")

	_, err := f.svc.Roulette(context.Background(), 0, roulette.Filter{})
	if !errors.Is(err, apperror.ErrExhausted) {
		t.Errorf("Roulette() error = %v, want ErrExhausted", err)
	}
}

func TestRoulette_DeadDrawIsNotOfferedAgain(t *testing.T) {
	f := newDiscoveryFixture(t, id2016)
	f.profiles.fail[id2016] = apperror.NotFound("discord user", id2016)
	viewer := f.viewer(t, &model.Account{ExternalID: "viewer", Username: "v"})
	ctx := context.Background()

	_, err := f.svc.Roulette(ctx, viewer, roulette.Filter{})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Roulette() error = %v, want ErrNotFound", err)
	}
	if hist := f.history(t, viewer, model.HistoryRoulette); len(hist) != 1 || hist[0] != id2016 {
		t.Fatalf("roulette history = %v, want [%s]", hist, id2016)
	}

	f.candidates.pool = append(f.candidates.pool, id2020)
	p, err := f.svc.Roulette(ctx, viewer, roulette.Filter{})
	if err != nil {
		t.Fatalf("second Roulette() error = %v", err)
	}
	if p.User.ID != id2020 {
		t.Errorf("draw = %s, want %s", p.User.ID, id2020)
	}
}

func TestRoulette_FinalFetchErrorPropagates(t *testing.T) {
	f := newDiscoveryFixture(t, id2020)
	f.profiles.fail[id2020] = apperror.Upstream("Discord is unavailable", nil)

	_, err := f.svc.Roulette(context.Background(), 0, roulette.Filter{})
	if !errors.Is(err, apperror.ErrUpstream) {
		t.Errorf("Roulette() error = %v, want ErrUpstream", err)
	}
}

// =========================================================================
// PREMIUM ROULETTE
// =========================================================================

func TestPremiumRoulette_ChargesOneCoin(t *testing.T) {
	f := newDiscoveryFixture(t, id2020)
	viewer := f.viewer(t, &model.Account{ExternalID: "viewer", Username: "v", Balance: 3, LastBalanceUpdate: ptrTime(fixedNow)})

	res, err := f.svc.PremiumRoulette(context.Background(), viewer, roulette.Filter{})
	if err != nil {
		t.Fatalf("PremiumRoulette() error = %v", err)
	}
	if res.Balance != 2 {
		t.Errorf("Balance = %d, want 2", res.Balance)
	}
	if res.Profile.User.ID != id2020 {
		t.Errorf("draw = %s, want %s", res.Profile.User.ID, id2020)
	}
}

func TestPremiumRoulette_InsufficientBalanceDoesNotRoll(t *testing.T) {
	f := newDiscoveryFixture(t, id2020)
	viewer := f.viewer(t, &model.Account{ExternalID: "viewer", Username: "v", LastBalanceUpdate: ptrTime(fixedNow)})

	_, err := f.svc.PremiumRoulette(context.Background(), viewer, roulette.Filter{})
	if !errors.Is(err, apperror.ErrInsufficientBalance) {
		t.Fatalf("PremiumRoulette() error = %v, want ErrInsufficientBalance", err)
	}
	if len(f.profiles.fetched) != 0 {
		t.Errorf("rolled without paying: fetched %v", f.profiles.fetched)
	}
}

func TestPremiumRoulette_RefundsFailedRoll(t *testing.T) {
	f := newDiscoveryFixture(t, id2020, id2016)
	viewer := f.viewer(t, &model.Account{ExternalID: "viewer", Username: "v", Balance: 1, LastBalanceUpdate: ptrTime(fixedNow)})

	// nobody has a banner, so the roll is exhausted
	_, err := f.svc.PremiumRoulette(context.Background(), viewer, roulette.Filter{RequireBanner: true})
	if !errors.Is(err, apperror.ErrExhausted) {
		t.Fatalf("PremiumRoulette() error = %v, want ErrExhausted", err)
	}

	stored, _ := f.store.GetByID(context.Background(), viewer)
	if stored.Balance != 1 {
		t.Errorf("Balance = %d, want 1 after refund", stored.Balance)
	}
}

func TestPremiumRoulette_Anonymous(t *testing.T) {
	f := newDiscoveryFixture(t, id2020)

	_, err := f.svc.PremiumRoulette(context.Background(), 0, roulette.Filter{})
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("PremiumRoulette() error = %v, want ErrUnauthorized", err)
	}
}

// =========================================================================
// FRIENDS
// =========================================================================

func TestSearchFriends(t *testing.T) {
	f := newDiscoveryFixture(t)

	got, err := f.svc.SearchFriends(context.Background(), "nas")
	if err != nil {
		t.Fatalf("SearchFriends() error = %v", err)
	}
	if len(got) != 1 || got[0].Username != "Nashi" {
		t.Errorf("SearchFriends() = %v, want [Nashi]", got)
	}

	empty, _ := f.svc.SearchFriends(context.Background(), "")
	if empty == nil || len(empty) != 0 {
		t.Errorf("SearchFriends(\"\") = %#v, want empty non-nil", empty)
	}
}

func TestFriend(t *testing.T) {
	f := newDiscoveryFixture(t)
	viewer := f.viewer(t, &model.Account{ExternalID: "viewer", Username: "v"})

	p, err := f.svc.Friend(context.Background(), viewer, id2016)
	if err != nil {
		t.Fatalf("Friend() error = %v", err)
	}
	if p.User.ID != id2016 {
		t.Errorf("Friend() user = %s, want %s", p.User.ID, id2016)
	}
	if got := f.history(t, viewer, model.HistoryFriend); len(got) != 1 || got[0] != id2016 {
		t.Errorf("friend history = %v, want [%s]", got, id2016)
	}

	_, err = f.svc.Friend(context.Background(), viewer, id2023)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Friend(not on list) error = %v, want ErrNotFound", err)
	}
}
