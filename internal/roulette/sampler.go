package roulette

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/discord"
	"github.com/sakif/discord-lookup/internal/snowflake"
)

const (
	// MaxYearProbes bounds how many shuffled candidates the year filter
	// decodes. Matches outside the probed subset are never considered, so a
	// year can come back exhausted even though the pool contains it.
	MaxYearProbes = 20

	// MaxBannerRetries is the number of extra draws after the first one when
	// a banner is required, for at most 1+MaxBannerRetries metadata fetches.
	MaxBannerRetries = 5
)

// ProfileSource fetches public profile metadata. *discord.Client implements it.
type ProfileSource interface {
	GetUser(ctx context.Context, id string) (*discord.User, error)
}

// Filter holds the optional predicates. The zero value means "any profile".
type Filter struct {
	Year          int  // creation year, 0 for none
	RequireBanner bool // Nitro filter
}

// Draw is the sampler's pick. Profile is filled when the banner filter had to
// fetch it anyway; otherwise the caller fetches it.
type Draw struct {
	ID      string
	Profile *discord.User
}

// Sampler draws one candidate from a pool.
type Sampler struct {
	rng      Rand
	profiles ProfileSource
	logger   *slog.Logger

	// yearOf resolves a candidate's creation year. Swappable in tests so
	// they can count probes.
	yearOf func(id string) (int, error)
}

// NewSampler wires a sampler to its randomness and metadata source.
func NewSampler(rng Rand, profiles ProfileSource, logger *slog.Logger) *Sampler {
	return &Sampler{
		rng:      rng,
		profiles: profiles,
		logger:   logger,
		yearOf:   snowflake.Year,
	}
}

// Sample picks one id from pool.
//
// With no filter it is a single uniform draw. The year filter runs first and
// narrows the pool to matches among at most MaxYearProbes shuffled
// candidates. The banner filter then draws from whatever pool is left,
// retrying up to MaxBannerRetries times.
//
// Running out of probes yields an apperror.ErrExhausted error. Context
// cancellation stops the probe loops and returns ctx.Err().
func (s *Sampler) Sample(ctx context.Context, pool []string, f Filter) (draw Draw, err error) {
	defer func() {
		switch {
		case err == nil:
			drawsTotal.WithLabelValues("hit").Inc()
		case errors.Is(err, apperror.ErrExhausted):
			drawsTotal.WithLabelValues("exhausted").Inc()
		default:
			drawsTotal.WithLabelValues("error").Inc()
		}
	}()

	if len(pool) == 0 {
		return Draw{}, apperror.Exhausted("No Discord IDs available in the roulette.")
	}

	candidates := pool
	if f.Year != 0 {
		matches, err := s.matchYear(ctx, pool, f.Year)
		if err != nil {
			return Draw{}, err
		}
		if len(matches) == 0 {
			return Draw{}, apperror.Exhausted("No users found for this year. Try a different year.")
		}
		candidates = matches
	}

	if f.RequireBanner {
		return s.drawWithBanner(ctx, candidates)
	}
	return Draw{ID: candidates[s.rng.Intn(len(candidates))]}, nil
}

// matchYear shuffles a copy of pool and decodes its first MaxYearProbes
// entries, keeping those created in year.
func (s *Sampler) matchYear(ctx context.Context, pool []string, year int) ([]string, error) {
	shuffled := append([]string(nil), pool...)
	s.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	limit := min(len(shuffled), MaxYearProbes)
	var matches []string
	for _, id := range shuffled[:limit] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		probesTotal.WithLabelValues("year").Inc()

		y, err := s.yearOf(id)
		if err != nil {
			s.logger.Debug("roulette: skipping undecodable id", slog.String("id", id))
			continue
		}
		if y == year {
			matches = append(matches, id)
		}
	}
	return matches, nil
}

// drawWithBanner fetches metadata for up to 1+MaxBannerRetries draws and
// returns the first one with a banner. A failed fetch counts as a miss.
func (s *Sampler) drawWithBanner(ctx context.Context, candidates []string) (Draw, error) {
	prev := -1
	for attempt := 0; attempt <= MaxBannerRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Draw{}, err
		}

		idx := s.pick(len(candidates), prev)
		prev = idx
		id := candidates[idx]
		probesTotal.WithLabelValues("banner").Inc()

		user, err := s.profiles.GetUser(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Draw{}, ctxErr
			}
			s.logger.Debug("roulette: banner probe failed",
				slog.String("id", id),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}
		if user.HasBanner() && !user.IsDeleted() {
			return Draw{ID: id, Profile: user}, nil
		}
	}
	return Draw{}, apperror.Exhausted("No Nitro users found. Try again.")
}

// pick draws an index in [0, n), avoiding prev when there is a choice.
func (s *Sampler) pick(n, prev int) int {
	if n <= 1 || prev < 0 {
		return s.rng.Intn(n)
	}
	idx := s.rng.Intn(n - 1)
	if idx >= prev {
		idx++
	}
	return idx
}
