// Package roulette draws random Discord profiles from a curated pool.
//
// The pieces, leaves first:
//
//	FileSource  loads the roulette pool and the friends list from disk on
//	            every call, so editing the files takes effect without a restart
//	Exclude     drops ids a viewer has already seen, recycling the full pool
//	            once everything has been seen
//	Sampler     draws one id, honouring optional year and banner filters with
//	            a bounded number of probes
package roulette

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sakif/discord-lookup/internal/apperror"
)

// Friend is one entry of the friends list file.
type Friend struct {
	Username  string `json:"username"`
	DiscordID string `json:"discordId"`
}

// FileSource reads the static candidate files.
//
// RoulettePath holds one id per line. FriendsPath holds "name;id" per line.
// Neither file is cached.
type FileSource struct {
	RoulettePath string
	FriendsPath  string
}

// Pool returns the roulette ids in file order. Blank lines are skipped and
// duplicates kept.
func (s FileSource) Pool(ctx context.Context) ([]string, error) {
	var ids []string
	err := readLines(ctx, s.RoulettePath, func(line string) {
		ids = append(ids, line)
	})
	if err != nil {
		return nil, fmt.Errorf("roulette: reading pool: %w", err)
	}
	if len(ids) == 0 {
		return nil, apperror.Exhausted("No Discord IDs available in the roulette.")
	}
	return ids, nil
}

// Friends returns every well-formed "name;id" entry. Lines without a
// separator or with an empty half are ignored.
func (s FileSource) Friends(ctx context.Context) ([]Friend, error) {
	var friends []Friend
	err := readLines(ctx, s.FriendsPath, func(line string) {
		name, id, ok := strings.Cut(line, ";")
		name, id = strings.TrimSpace(name), strings.TrimSpace(id)
		if !ok || name == "" || id == "" {
			return
		}
		friends = append(friends, Friend{Username: name, DiscordID: id})
	})
	if err != nil {
		return nil, fmt.Errorf("roulette: reading friends: %w", err)
	}
	return friends, nil
}

// SearchFriends matches query case-insensitively against usernames, and as a
// prefix against ids. An empty query matches nothing.
func SearchFriends(friends []Friend, query string) []Friend {
	q := strings.ToLower(strings.TrimSpace(query))
	results := []Friend{}
	if q == "" {
		return results
	}
	for _, f := range friends {
		if strings.Contains(strings.ToLower(f.Username), q) || strings.HasPrefix(f.DiscordID, q) {
			results = append(results, f)
		}
	}
	return results
}

// FindFriend returns the entry for id, if listed.
func FindFriend(friends []Friend, id string) (Friend, bool) {
	for _, f := range friends {
		if f.DiscordID == id {
			return f, true
		}
	}
	return Friend{}, false
}

func readLines(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	return sc.Err()
}
