// Package service holds the business rules between the HTTP handlers and
// the account store:
//
//	handler -> AuthService      -> AccountRepository, TokenService, PasswordService
//	        -> AccountService   -> AccountRepository, balance rules
//	        -> DiscoveryService -> roulette.Sampler, discord.Client, AccountService
//
// Services never touch http.Request or cookies; they return domain values
// and apperror kinds that the handlers translate into responses.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/auth"
	"github.com/sakif/discord-lookup/internal/model"
	"github.com/sakif/discord-lookup/internal/repository"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]{3,32}$`)

const minPasswordLength = 8

// maxUpsertAttempts bounds retries when a concurrent login races us on the
// same account row.
const maxUpsertAttempts = 3

// AuthService signs accounts in and issues session tokens.
type AuthService struct {
	accounts  repository.AccountRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	admins    map[string]bool
	logger    *slog.Logger
}

// NewAuthService wires the service. adminIDs are Discord ids whose accounts
// get IsAdmin on every sign-in.
func NewAuthService(
	accounts repository.AccountRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	adminIDs []string,
	logger *slog.Logger,
) *AuthService {
	admins := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = true
		}
	}
	return &AuthService{
		accounts:  accounts,
		tokens:    tokens,
		passwords: passwords,
		admins:    admins,
		logger:    logger,
	}
}

// AuthResult bundles the account and its fresh session token so the handler
// can set the cookie and respond in one step.
type AuthResult struct {
	Account *model.Account
	Token   string
}

// LoginOrRegisterDiscord is called after a successful OAuth exchange. The
// first sign-in creates the account with a zero balance; later sign-ins
// refresh username and avatar.
func (s *AuthService) LoginOrRegisterDiscord(ctx context.Context, du *auth.DiscordUser) (*AuthResult, error) {
	if du == nil || du.ID == "" {
		return nil, fmt.Errorf("service/auth: Discord user must have an id")
	}

	acct, err := s.upsertDiscord(ctx, du)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account signed in via Discord",
		slog.Int64("accountID", acct.ID),
		slog.String("discordID", acct.ExternalID),
		slog.String("username", acct.Username),
	)
	return s.issue(acct)
}

func (s *AuthService) upsertDiscord(ctx context.Context, du *auth.DiscordUser) (*model.Account, error) {
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		acct, err := s.accounts.GetByExternalID(ctx, du.ID)
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			acct = &model.Account{
				ExternalID: du.ID,
				Username:   du.Username,
				Avatar:     du.AvatarHash(),
				IsAdmin:    s.admins[du.ID],
			}
			err = s.accounts.Create(ctx, acct)
			if errors.Is(err, apperror.ErrConflict) {
				continue // created concurrently; take the update path
			}
			if err != nil {
				return nil, fmt.Errorf("service/auth: creating account for %s: %w", du.ID, err)
			}
			return acct, nil

		case err != nil:
			return nil, fmt.Errorf("service/auth: loading account for %s: %w", du.ID, err)
		}

		acct.Username = du.Username
		acct.Avatar = du.AvatarHash()
		acct.IsAdmin = s.admins[du.ID]
		err = s.accounts.Update(ctx, acct)
		if errors.Is(err, apperror.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("service/auth: updating account %d: %w", acct.ID, err)
		}
		return acct, nil
	}
	return nil, fmt.Errorf("service/auth: signing in %s: %w", du.ID, apperror.Conflict("account", du.ID))
}

// Register creates a local username/password account and signs it in.
func (s *AuthService) Register(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, apperror.ValidationFailed("username",
			"username must be 3-32 characters of letters, digits, '_' or '.'")
	}
	if len(password) < minPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "password is too long")
	}

	acct := &model.Account{
		ExternalID:   localExternalID(username),
		Username:     username,
		PasswordHash: hash,
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "username is already taken",
				Field:   "username",
			}
		}
		return nil, fmt.Errorf("service/auth: registering %q: %w", username, err)
	}

	s.logger.Info("local account registered",
		slog.Int64("accountID", acct.ID),
		slog.String("username", username),
	)
	return s.issue(acct)
}

// Login checks a local account's password. Unknown usernames and wrong
// passwords produce the same Unauthorized error.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	bad := apperror.Unauthorized("invalid username or password")

	acct, err := s.accounts.GetByExternalID(ctx, localExternalID(strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, bad
		}
		return nil, fmt.Errorf("service/auth: loading %q: %w", username, err)
	}

	if err := s.passwords.Verify(acct.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Warn("stored password hash is unusable",
				slog.Int64("accountID", acct.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, bad
	}
	return s.issue(acct)
}

// GetAccount returns the account behind a session.
func (s *AuthService) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	if id <= 0 {
		return nil, apperror.ValidationFailed("id", "account id must be positive")
	}
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching account %d: %w", id, err)
	}
	return acct, nil
}

// ValidateToken returns the account id a session token was issued for.
func (s *AuthService) ValidateToken(token string) (int64, error) {
	id, err := s.tokens.Validate(token)
	if err != nil {
		return 0, fmt.Errorf("service/auth: %w", err)
	}
	return id, nil
}

func (s *AuthService) issue(acct *model.Account) (*AuthResult, error) {
	token, err := s.tokens.Generate(acct.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for account %d: %w", acct.ID, err)
	}
	return &AuthResult{Account: acct, Token: token}, nil
}

func localExternalID(username string) string {
	return model.LocalPrefix + strings.ToLower(username)
}
