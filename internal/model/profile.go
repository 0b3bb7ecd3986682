package model

import "github.com/sakif/discord-lookup/internal/discord"

// Profile is what lookup, roulette and friend endpoints return: the Discord
// user plus the creation details decoded from the id.
type Profile struct {
	User       *discord.User `json:"user"`
	CreatedAt  string        `json:"created_at"`
	AccountAge string        `json:"account_age"`
}
