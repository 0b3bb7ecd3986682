package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/auth"
	"github.com/sakif/discord-lookup/internal/model"
	"github.com/sakif/discord-lookup/internal/roulette"
	"github.com/sakif/discord-lookup/internal/service"
)

// Discovery is *service.DiscoveryService as the handlers see it.
type Discovery interface {
	Lookup(ctx context.Context, viewerID int64, id string) (*model.Profile, error)
	Roulette(ctx context.Context, viewerID int64, f roulette.Filter) (*model.Profile, error)
	PremiumRoulette(ctx context.Context, viewerID int64, f roulette.Filter) (*service.PremiumResult, error)
	SearchFriends(ctx context.Context, query string) ([]roulette.Friend, error)
	Friend(ctx context.Context, viewerID int64, id string) (*model.Profile, error)
}

// DiscordHandler serves /api/discord/*.
type DiscordHandler struct {
	discovery Discovery
	logger    *slog.Logger
}

func NewDiscordHandler(discovery Discovery, logger *slog.Logger) *DiscordHandler {
	return &DiscordHandler{discovery: discovery, logger: logger}
}

// HandleLookup returns a profile with its decoded creation date.
//
// HTTP: GET /api/discord/users/{id}
func (h *DiscordHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.AccountIDFromContext(r.Context())

	p, err := h.discovery.Lookup(r.Context(), viewer, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleRoulette draws a random profile.
//
// HTTP: GET /api/discord/roulette?year=2020&nitro=true
//
// Running out of candidates is answered with 404 and a message the UI
// shows as is ("No users found for this year. Try a different year.").
func (h *DiscordHandler) HandleRoulette(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	viewer, _ := auth.AccountIDFromContext(r.Context())

	p, err := h.discovery.Roulette(r.Context(), viewer, f)
	if err != nil {
		h.rouletteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type premiumResponse struct {
	*model.Profile
	Balance int `json:"balance"`
}

// HandlePremiumRoulette spends one coin and draws. A failed draw is
// refunded by the service.
//
// HTTP: POST /api/discord/roulette/premium?year=&nitro= (RequireAuth)
func (h *DiscordHandler) HandlePremiumRoulette(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	viewer, _ := auth.AccountIDFromContext(r.Context())

	res, err := h.discovery.PremiumRoulette(r.Context(), viewer, f)
	if err != nil {
		h.rouletteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, premiumResponse{Profile: res.Profile, Balance: res.Balance})
}

type friendSearchResponse struct {
	Results []roulette.Friend `json:"results"`
	Total   int               `json:"total"`
}

// HandleFriendSearch filters the friends list.
//
// HTTP: GET /api/discord/friends/search?query=nas
func (h *DiscordHandler) HandleFriendSearch(w http.ResponseWriter, r *http.Request) {
	results, err := h.discovery.SearchFriends(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, friendSearchResponse{Results: results, Total: len(results)})
}

// HandleFriend opens a friend's profile.
//
// HTTP: GET /api/discord/friends/{id}
func (h *DiscordHandler) HandleFriend(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.AccountIDFromContext(r.Context())

	p, err := h.discovery.Friend(r.Context(), viewer, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// rouletteError answers exhaustion with a bare {"message"} body, which is
// what the roulette page expects; everything else goes through writeError.
func (h *DiscordHandler) rouletteError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.Is(err, apperror.ErrExhausted) && errors.As(err, &appErr) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": appErr.Message})
		return
	}
	writeError(w, h.logger, err)
}

// parseFilter reads ?year= and ?nitro=. Empty values mean "no filter".
func parseFilter(r *http.Request) (roulette.Filter, error) {
	var f roulette.Filter
	q := r.URL.Query()

	if y := strings.TrimSpace(q.Get("year")); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil || year < 2015 || year > 9999 {
			return f, apperror.ValidationFailed("year", "year must be 2015 or later")
		}
		f.Year = year
	}

	if n := strings.TrimSpace(q.Get("nitro")); n != "" {
		nitro, err := strconv.ParseBool(n)
		if err != nil {
			return f, apperror.ValidationFailed("nitro", "nitro must be true or false")
		}
		f.RequireBanner = nitro
	}
	return f, nil
}
