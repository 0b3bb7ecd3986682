package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/discord"
	"github.com/sakif/discord-lookup/internal/model"
	"github.com/sakif/discord-lookup/internal/roulette"
	"github.com/sakif/discord-lookup/internal/snowflake"
)

// CandidateSource supplies the roulette pool and the friends list.
// roulette.FileSource implements it.
type CandidateSource interface {
	Pool(ctx context.Context) ([]string, error)
	Friends(ctx context.Context) ([]roulette.Friend, error)
}

// DiscoveryService implements lookup, roulette and the friends list.
//
// viewerID is the signed-in account id, or 0 for anonymous callers. Signed-in
// viewers get every shown profile appended to the matching history list and
// never see a roulette profile twice until the pool runs out.
type DiscoveryService struct {
	candidates CandidateSource
	profiles   roulette.ProfileSource
	sampler    *roulette.Sampler
	accounts   *AccountService
	rollCost   int
	logger     *slog.Logger

	now func() time.Time
}

func NewDiscoveryService(
	candidates CandidateSource,
	profiles roulette.ProfileSource,
	sampler *roulette.Sampler,
	accounts *AccountService,
	rollCost int,
	logger *slog.Logger,
) *DiscoveryService {
	if rollCost <= 0 {
		rollCost = 1
	}
	return &DiscoveryService{
		candidates: candidates,
		profiles:   profiles,
		sampler:    sampler,
		accounts:   accounts,
		rollCost:   rollCost,
		logger:     logger,
		now:        time.Now,
	}
}

// Lookup returns the profile for a Discord id typed in by the user.
func (s *DiscoveryService) Lookup(ctx context.Context, viewerID int64, id string) (*model.Profile, error) {
	if err := snowflake.Validate(id); err != nil {
		return nil, err
	}

	p, err := s.profile(ctx, id, "User not found. Please check the ID and try again.")
	if err != nil {
		return nil, err
	}

	s.record(ctx, viewerID, model.HistoryLookup, id)
	return p, nil
}

// Roulette draws a random profile from the pool.
//
// PIPELINE:
//
//	pool (file) -> Exclude(viewer's roulette history) -> Sampler -> fetch
//
// Exhaustion from the pool or the sampler comes back as apperror.ErrExhausted
// and is a normal answer, not a failure.
func (s *DiscoveryService) Roulette(ctx context.Context, viewerID int64, f roulette.Filter) (*model.Profile, error) {
	pool, err := s.candidates.Pool(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/discovery: %w", err)
	}

	if viewerID > 0 {
		seen, err := s.accounts.History(ctx, viewerID, string(model.HistoryRoulette))
		if err != nil {
			return nil, err
		}
		pool = roulette.Exclude(pool, seen)
	}

	draw, err := s.sampler.Sample(ctx, pool, f)
	if err != nil {
		return nil, fmt.Errorf("service/discovery: %w", err)
	}

	const gone = "Selected user not found. Please try again."
	var p *model.Profile
	if draw.Profile != nil {
		p, err = s.describe(draw.Profile, gone)
	} else {
		p, err = s.profile(ctx, draw.ID, gone)
	}
	if err != nil {
		// a dead id still counts as seen so exclusion stops drawing it
		if errors.Is(err, apperror.ErrNotFound) {
			s.record(ctx, viewerID, model.HistoryRoulette, draw.ID)
		}
		return nil, err
	}

	s.logger.Debug("roulette draw",
		slog.String("discordID", draw.ID),
		slog.Int("year", f.Year),
		slog.Bool("nitro", f.RequireBanner),
	)
	s.record(ctx, viewerID, model.HistoryRoulette, draw.ID)
	return p, nil
}

// PremiumResult is a paid roll together with the balance left after it.
type PremiumResult struct {
	Profile *model.Profile
	Balance int
}

// PremiumRoulette charges the roll cost, then rolls. A roll that fails for
// any reason, exhaustion included, is refunded.
func (s *DiscoveryService) PremiumRoulette(ctx context.Context, viewerID int64, f roulette.Filter) (*PremiumResult, error) {
	if viewerID <= 0 {
		return nil, apperror.Unauthorized("Authentication required")
	}

	acct, err := s.accounts.Spend(ctx, viewerID, -s.rollCost)
	if err != nil {
		return nil, err
	}

	p, rollErr := s.Roulette(ctx, viewerID, f)
	if rollErr != nil {
		// the request context may be gone by now; the refund must still land
		refundCtx := context.WithoutCancel(ctx)
		if _, err := s.accounts.Refund(refundCtx, viewerID, s.rollCost); err != nil {
			s.logger.Error("premium roll refund failed",
				slog.Int64("accountID", viewerID),
				slog.Int("amount", s.rollCost),
				slog.String("error", err.Error()),
			)
			return nil, errors.Join(rollErr, err)
		}
		return nil, rollErr
	}

	return &PremiumResult{Profile: p, Balance: acct.Balance}, nil
}

// SearchFriends matches query against the friends list. An empty query
// returns an empty, non-nil slice.
func (s *DiscoveryService) SearchFriends(ctx context.Context, query string) ([]roulette.Friend, error) {
	friends, err := s.candidates.Friends(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/discovery: %w", err)
	}
	return roulette.SearchFriends(friends, query), nil
}

// Friend opens the profile of someone on the friends list.
func (s *DiscoveryService) Friend(ctx context.Context, viewerID int64, id string) (*model.Profile, error) {
	if err := snowflake.Validate(id); err != nil {
		return nil, err
	}

	friends, err := s.candidates.Friends(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/discovery: %w", err)
	}
	if _, ok := roulette.FindFriend(friends, id); !ok {
		return nil, &apperror.AppError{
			Err:     apperror.ErrNotFound,
			Message: "Friend not found",
			Field:   "id",
		}
	}

	p, err := s.profile(ctx, id, "User not found. Please check the ID and try again.")
	if err != nil {
		return nil, err
	}

	s.record(ctx, viewerID, model.HistoryFriend, id)
	return p, nil
}

// profile fetches id from Discord and decodes its creation details. Both a
// 404 and a deleted-account placeholder become NotFound with notFoundMsg.
func (s *DiscoveryService) profile(ctx context.Context, id, notFoundMsg string) (*model.Profile, error) {
	u, err := s.profiles.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: notFoundMsg}
		}
		return nil, fmt.Errorf("service/discovery: fetching %s: %w", id, err)
	}
	return s.describe(u, notFoundMsg)
}

func (s *DiscoveryService) describe(u *discord.User, notFoundMsg string) (*model.Profile, error) {
	if u.IsDeleted() {
		return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: notFoundMsg}
	}
	info, err := snowflake.Decode(u.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("service/discovery: decoding %s: %w", u.ID, err)
	}
	return &model.Profile{
		User:       u,
		CreatedAt:  info.FormattedDate,
		AccountAge: info.Age,
	}, nil
}

// record appends to the viewer's history. It never fails the request: the
// profile has already been fetched and is worth returning.
func (s *DiscoveryService) record(ctx context.Context, viewerID int64, kind model.HistoryKind, id string) {
	if viewerID <= 0 {
		return
	}
	if err := s.accounts.RecordHistory(ctx, viewerID, kind, id); err != nil {
		s.logger.Warn("failed to record history",
			slog.Int64("accountID", viewerID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}
