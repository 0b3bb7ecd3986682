// Package discord is a minimal client for the Discord REST API.
//
// Only one endpoint is used: GET /users/{id}, authenticated with a bot token.
// That endpoint returns public profile data (username, avatar, banner) for any
// user, which is what the lookup and roulette features display.
//
// ERROR MAPPING:
//
//	404 from Discord           -> apperror.ErrNotFound
//	any other non-2xx          -> apperror.ErrUpstream
//	network failure / timeout  -> apperror.ErrUpstream
//	undecodable body           -> apperror.ErrUpstream
//
// Keeping "not found" separate from "Discord is broken" lets the roulette
// sampler and the HTTP layer react differently to the two.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/discord-lookup/internal/apperror"
)

// DefaultBaseURL is the versioned REST root.
const DefaultBaseURL = "https://discord.com/api/v10"

// DefaultTimeout bounds every call, including the roulette's per-probe fetches.
const DefaultTimeout = 5 * time.Second

// User is the subset of the Discord user object we return to clients.
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	GlobalName    *string `json:"global_name,omitempty"`
	Discriminator string  `json:"discriminator"`
	Avatar        *string `json:"avatar"`
	Bot           bool    `json:"bot,omitempty"`
	System        bool    `json:"system,omitempty"`
	Banner        *string `json:"banner,omitempty"`
	AccentColor   *int    `json:"accent_color,omitempty"`
}

// HasBanner is the Nitro heuristic: only premium accounts can set a banner image.
func (u *User) HasBanner() bool {
	return u != nil && u.Banner != nil && *u.Banner != ""
}

// IsDeleted reports Discord's placeholder for deleted accounts.
func (u *User) IsDeleted() bool {
	return strings.HasPrefix(u.Username, "Deleted User") ||
		strings.HasPrefix(u.Username, "deleted_user_")
}

// Client talks to the Discord API with a bot token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root (tests use httptest).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient swaps the transport entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client. An empty token is allowed so the server can
// start without Discord credentials; every call will then come back as an
// upstream 401.
func NewClient(botToken string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      botToken,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is the JSON body Discord sends with non-2xx responses.
type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// GetUser fetches the public profile for id.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	endpoint := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("discord: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A cancelled inbound request is not Discord's fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("discord request failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Upstream("An error occurred while retrieving Discord user data.", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperror.NotFound("discord user", id)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var apiErr apiError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		c.logger.Warn("discord returned an error",
			slog.String("id", id),
			slog.Int("status", resp.StatusCode),
			slog.String("message", apiErr.Message),
		)
		return nil, apperror.Upstream(
			"An error occurred while retrieving Discord user data.",
			fmt.Errorf("discord: status %d: %s", resp.StatusCode, apiErr.Message),
		)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, apperror.Upstream("Discord returned an unreadable profile.", fmt.Errorf("discord: decoding user %s: %w", id, err))
	}
	if user.ID == "" {
		return nil, apperror.Upstream("Discord returned an unreadable profile.", fmt.Errorf("discord: user %s has no id", id))
	}
	return &user, nil
}
