package model

import "fmt"

// HistoryKind names one of the per-account history lists.
type HistoryKind string

const (
	HistoryLookup   HistoryKind = "lookup"
	HistoryRoulette HistoryKind = "roulette"
	HistoryFriend   HistoryKind = "friend"
)

// HistoryKinds lists every kind in a stable order.
var HistoryKinds = []HistoryKind{HistoryLookup, HistoryRoulette, HistoryFriend}

// ParseHistoryKind accepts the path segment used by /api/user/history/{type}.
func ParseHistoryKind(s string) (HistoryKind, error) {
	switch k := HistoryKind(s); k {
	case HistoryLookup, HistoryRoulette, HistoryFriend:
		return k, nil
	}
	return "", fmt.Errorf("unknown history type %q", s)
}
