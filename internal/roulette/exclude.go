package roulette

import "strings"

// Exclude returns the entries of pool that do not appear in seen, comparing
// trimmed strings. When every entry has been seen it returns pool itself:
// running out of new profiles recycles the whole list instead of failing.
//
// Neither argument is modified.
func Exclude(pool, seen []string) []string {
	if len(seen) == 0 || len(pool) == 0 {
		return pool
	}

	skip := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		skip[strings.TrimSpace(id)] = struct{}{}
	}

	fresh := make([]string, 0, len(pool))
	for _, id := range pool {
		if _, ok := skip[strings.TrimSpace(id)]; !ok {
			fresh = append(fresh, id)
		}
	}

	if len(fresh) == 0 {
		return pool
	}
	return fresh
}
