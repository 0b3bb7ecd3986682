package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/auth"
	"github.com/sakif/discord-lookup/internal/model"
	"github.com/sakif/discord-lookup/internal/service"
)

const stateCookie = "oauth_state"

// Where the browser lands after the Discord callback.
const (
	redirectSignedIn = "/dashboard"
	redirectFailed   = "/?auth=failed"
	redirectDenied   = "/?auth=denied"
)

// OAuthProvider is the Discord authorization code flow.
// *auth.DiscordProvider implements it.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.DiscordUser, error)
}

// Authenticator signs accounts in. *service.AuthService implements it.
type Authenticator interface {
	LoginOrRegisterDiscord(ctx context.Context, du *auth.DiscordUser) (*service.AuthResult, error)
	Register(ctx context.Context, username, password string) (*service.AuthResult, error)
	Login(ctx context.Context, username, password string) (*service.AuthResult, error)
}

// SessionAccounts loads the signed-in account, running the daily accrual on
// the way. *service.AccountService implements it.
type SessionAccounts interface {
	Balance(ctx context.Context, id int64) (*model.Account, error)
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	TTL    time.Duration
	Secure bool // set behind HTTPS
}

// AuthHandler serves /api/auth/* and /api/user.
type AuthHandler struct {
	provider OAuthProvider
	auth     Authenticator
	accounts SessionAccounts
	cookie   CookieConfig
	logger   *slog.Logger
}

func NewAuthHandler(
	provider OAuthProvider,
	authn Authenticator,
	accounts SessionAccounts,
	cookie CookieConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		auth:     authn,
		accounts: accounts,
		cookie:   cookie,
		logger:   logger,
	}
}

// HandleDiscordLogin redirects to Discord's consent page.
//
// HTTP: GET /api/auth/discord
//
// A random state goes both into a short-lived cookie and into the redirect;
// the callback refuses to continue unless the two match, which stops a third
// party from completing a sign-in in the user's browser.
func (h *AuthHandler) HandleDiscordLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleDiscordCallback finishes the OAuth flow.
//
// HTTP: GET /api/auth/discord/callback?code=...&state=...
//
// On success the session cookie is set and the browser goes to the
// dashboard; any failure after the state check sends it home with
// ?auth=failed.
func (h *AuthHandler) HandleDiscordCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || q.Get("state") != c.Value {
		h.logger.Warn("auth callback: state mismatch or missing")
		writeError(w, h.logger, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if e := q.Get("error"); e != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", e))
		http.Redirect(w, r, redirectDenied, http.StatusSeeOther)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, h.logger, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	du, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: Discord exchange failed", slog.String("error", err.Error()))
		http.Redirect(w, r, redirectFailed, http.StatusSeeOther)
		return
	}

	res, err := h.auth.LoginOrRegisterDiscord(r.Context(), du)
	if err != nil {
		h.logger.Error("auth callback: sign-in failed",
			slog.String("discordID", du.ID),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, redirectFailed, http.StatusSeeOther)
		return
	}

	h.setSession(w, res.Token)
	http.Redirect(w, r, redirectSignedIn, http.StatusSeeOther)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type accountResponse struct {
	User *model.Account `json:"user"`
}

// HandleRegister creates a local account and signs it in.
//
// HTTP: POST /api/auth/register {"username": "...", "password": "..."}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Register(r.Context(), body.Username, body.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.setSession(w, res.Token)
	writeJSON(w, http.StatusCreated, accountResponse{User: res.Account})
}

// HandleLogin signs a local account in.
//
// HTTP: POST /api/auth/login {"username": "...", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.setSession(w, res.Token)
	writeJSON(w, http.StatusOK, accountResponse{User: res.Account})
}

// HandleLogout clears the session cookie. The JWT itself stays valid until
// it expires; without the cookie the browser no longer sends it.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type sessionUser struct {
	ID        int64  `json:"id"`
	DiscordID string `json:"discordId"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar,omitempty"`
	IsAdmin   bool   `json:"isAdmin"`
	Balance   int    `json:"balance"`
}

type sessionResponse struct {
	IsLoggedIn bool         `json:"isLoggedIn"`
	User       *sessionUser `json:"user,omitempty"`
}

// HandleSession reports whether the caller is signed in. Checking the
// session also grants the daily credit.
//
// HTTP: GET /api/auth/session (OptionalAuth)
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, sessionResponse{IsLoggedIn: false})
		return
	}

	acct, err := h.accounts.Balance(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// token for an account that no longer exists
			writeJSON(w, http.StatusOK, sessionResponse{IsLoggedIn: false})
			return
		}
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		IsLoggedIn: true,
		User: &sessionUser{
			ID:        acct.ID,
			DiscordID: acct.ExternalID,
			Username:  acct.Username,
			Avatar:    acct.Avatar,
			IsAdmin:   acct.IsAdmin,
			Balance:   acct.Balance,
		},
	})
}

// HandleMe returns the full signed-in account, history lists included.
//
// HTTP: GET /api/user (RequireAuth)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("Authentication required"))
		return
	}

	acct, err := h.accounts.Balance(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, withHistories(acct))
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookie.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// withHistories makes sure the history lists encode as [] rather than null.
func withHistories(acct *model.Account) *model.Account {
	for _, k := range model.HistoryKinds {
		if acct.History(k) == nil {
			acct.SetHistory(k, []string{})
		}
	}
	return acct
}
