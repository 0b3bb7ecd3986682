package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Discord's OAuth2 endpoints. x/oauth2 ships no preset for Discord.
var DiscordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  "https://discord.com/api/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

const defaultDiscordAPIBase = "https://discord.com/api/v10"

// DiscordUser is the part of GET /users/@me we keep.
type DiscordUser struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	GlobalName *string `json:"global_name"`
	Avatar     *string `json:"avatar"`
}

// AvatarHash returns the avatar hash or "" when the user has none.
func (u *DiscordUser) AvatarHash() string {
	if u.Avatar == nil {
		return ""
	}
	return *u.Avatar
}

// DiscordProvider runs the authorization code flow against Discord.
//
// OAUTH FLOW:
//  1. AuthURL builds the redirect to Discord's consent page, carrying a
//     random state value that the handler also stores in a cookie.
//  2. Discord redirects back to the callback URL with ?code=...&state=...
//  3. Exchange trades the code for an access token (server to server, with
//     the client secret) and reads /users/@me with it.
//
// Only the "identify" scope is requested: id, username and avatar.
type DiscordProvider struct {
	config  *oauth2.Config
	apiBase string
}

// ProviderOption adjusts a DiscordProvider. Tests use it to point the
// provider at an httptest server.
type ProviderOption func(*DiscordProvider)

// WithEndpoint overrides the OAuth authorize and token URLs.
func WithEndpoint(ep oauth2.Endpoint) ProviderOption {
	return func(p *DiscordProvider) { p.config.Endpoint = ep }
}

// WithAPIBase overrides the REST base used for /users/@me.
func WithAPIBase(base string) ProviderOption {
	return func(p *DiscordProvider) {
		if base != "" {
			p.apiBase = strings.TrimRight(base, "/")
		}
	}
}

func NewDiscordProvider(clientID, clientSecret, callbackURL string, opts ...ProviderOption) *DiscordProvider {
	p := &DiscordProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"identify"},
			Endpoint:     DiscordEndpoint,
		},
		apiBase: defaultDiscordAPIBase,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthURL returns the Discord consent URL for state.
func (p *DiscordProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange completes the flow and returns the signed-in Discord user.
func (p *DiscordProvider) Exchange(ctx context.Context, code string) (*DiscordUser, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	client := p.config.Client(ctx, tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/users/@me", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building /users/@me request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling Discord /users/@me: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: Discord /users/@me returned status %d", resp.StatusCode)
	}

	var u DiscordUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("auth: decoding Discord /users/@me response: %w", err)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("auth: Discord returned a user without an id")
	}
	return &u, nil
}
