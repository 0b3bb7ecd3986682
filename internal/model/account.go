// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// LocalPrefix marks external ids of accounts created with a username and
// password instead of Discord OAuth. Discord accounts use the bare snowflake.
const LocalPrefix = "local:"

// Account is a signed-in person.
//
// ExternalID is the stable key coming from the identity provider. For
// Discord logins that is the user's snowflake; local accounts get
// "local:<username>". The internal ID is a database autoincrement so it never
// depends on Discord's numbering.
//
// Version backs optimistic concurrency: every successful Update bumps it, and
// an Update carrying a stale Version is rejected.
type Account struct {
	ID                int64      `json:"id"`
	ExternalID        string     `json:"discordId"`
	Username          string     `json:"username"`
	Avatar            string     `json:"avatar,omitempty"`
	PasswordHash      string     `json:"-"`
	Balance           int        `json:"balance"`
	LastBalanceUpdate *time.Time `json:"lastBalanceUpdate"`
	IsAdmin           bool       `json:"isAdmin"`
	LookupHistory     []string   `json:"lookupHistory"`
	RouletteHistory   []string   `json:"rouletteHistory"`
	FriendHistory     []string   `json:"friendHistory"`
	Version           int64      `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// IsLocal reports whether the account signs in with a password.
func (a *Account) IsLocal() bool {
	return strings.HasPrefix(a.ExternalID, LocalPrefix)
}

// History returns the list for kind. The slice is shared, not copied.
func (a *Account) History(kind HistoryKind) []string {
	switch kind {
	case HistoryLookup:
		return a.LookupHistory
	case HistoryRoulette:
		return a.RouletteHistory
	case HistoryFriend:
		return a.FriendHistory
	}
	return nil
}

// SetHistory replaces the list for kind.
func (a *Account) SetHistory(kind HistoryKind, ids []string) {
	switch kind {
	case HistoryLookup:
		a.LookupHistory = ids
	case HistoryRoulette:
		a.RouletteHistory = ids
	case HistoryFriend:
		a.FriendHistory = ids
	}
}

// Clone returns a deep copy so stores can hand out values callers may mutate.
func (a *Account) Clone() *Account {
	c := *a
	if a.LastBalanceUpdate != nil {
		t := *a.LastBalanceUpdate
		c.LastBalanceUpdate = &t
	}
	c.LookupHistory = append([]string(nil), a.LookupHistory...)
	c.RouletteHistory = append([]string(nil), a.RouletteHistory...)
	c.FriendHistory = append([]string(nil), a.FriendHistory...)
	return &c
}
