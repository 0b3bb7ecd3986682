package model

import (
	"testing"
	"time"
)

func TestParseHistoryKind(t *testing.T) {
	for _, k := range HistoryKinds {
		got, err := ParseHistoryKind(string(k))
		if err != nil {
			t.Fatalf("ParseHistoryKind(%q) error = %v", k, err)
		}
		if got != k {
			t.Errorf("ParseHistoryKind(%q) = %q", k, got)
		}
	}

	if _, err := ParseHistoryKind("favourites"); err == nil {
		t.Error("ParseHistoryKind() should reject unknown kinds")
	}
}

func TestAccountClone_IsDeep(t *testing.T) {
	now := time.Now()
	a := &Account{
		ID:                1,
		RouletteHistory:   []string{"a", "b"},
		LastBalanceUpdate: &now,
	}

	c := a.Clone()
	c.RouletteHistory[0] = "changed"
	*c.LastBalanceUpdate = now.Add(time.Hour)

	if a.RouletteHistory[0] != "a" {
		t.Error("Clone() shares the history backing array")
	}
	if !a.LastBalanceUpdate.Equal(now) {
		t.Error("Clone() shares LastBalanceUpdate")
	}
}

func TestAccountHistoryAccessors(t *testing.T) {
	a := &Account{}
	a.SetHistory(HistoryFriend, []string{"x"})

	if got := a.History(HistoryFriend); len(got) != 1 || got[0] != "x" {
		t.Errorf("History(friend) = %v, want [x]", got)
	}
	if got := a.History(HistoryLookup); got != nil {
		t.Errorf("History(lookup) = %v, want nil", got)
	}
}

func TestIsLocal(t *testing.T) {
	if !(&Account{ExternalID: LocalPrefix + "alice"}).IsLocal() {
		t.Error("IsLocal() = false for a local account")
	}
	if (&Account{ExternalID: "661720242585600000"}).IsLocal() {
		t.Error("IsLocal() = true for a Discord account")
	}
}
