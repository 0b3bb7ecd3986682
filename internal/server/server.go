// Package server is the composition root: it opens the store, builds the
// services and handlers, mounts the routes and runs the HTTP server.
//
// DEPENDENCY FLOW:
//
//	config.Config
//	  -> repository.Store (sqlite | postgres | memory)
//	  -> AuthService, AccountService
//	  -> discord.Client + roulette.FileSource + roulette.Sampler
//	  -> DiscoveryService
//	  -> AuthHandler, AccountHandler, DiscordHandler
//	  -> chi router
//
// Handlers only see the service interfaces they declare; services only see
// repository.AccountRepository.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/discord-lookup/internal/auth"
	"github.com/sakif/discord-lookup/internal/config"
	"github.com/sakif/discord-lookup/internal/discord"
	"github.com/sakif/discord-lookup/internal/handler"
	"github.com/sakif/discord-lookup/internal/middleware"
	"github.com/sakif/discord-lookup/internal/repository"
	"github.com/sakif/discord-lookup/internal/repository/memory"
	"github.com/sakif/discord-lookup/internal/repository/postgres"
	sqliteRepo "github.com/sakif/discord-lookup/internal/repository/sqlite"
	"github.com/sakif/discord-lookup/internal/roulette"
	"github.com/sakif/discord-lookup/internal/service"
)

// Server owns the router and the store. The store is closed when Start
// returns.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	store  repository.Store
}

// New opens the configured store and wires every route.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}

	if err := s.setupRoutes(); err != nil {
		store.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// openStore picks the account store by driver name.
func openStore(cfg config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memory.New(), nil

	case config.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return db, nil

	default:
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return db, nil
	}
}

// setupRoutes builds the services and mounts every route.
//
// ROUTES:
//
//	GET  /healthz
//	GET  /metrics
//	/api/auth     discord, discord/callback, register, login, logout, session
//	/api/user     account, balance, balance/use, history/{type}   (signed in)
//	/api/admin    update-balance                                  (signed in)
//	/api/discord  users/{id}, roulette, roulette/premium, friends (rate limited)
//	/*            static files, when STATIC_DIR exists
//
// MIDDLEWARE ORDER:
// RequestID, RealIP, Logger, Metrics, Recoverer. Recoverer is innermost so
// a panic still shows up as a logged and counted 500.
func (s *Server) setupRoutes() error {
	cfg := s.config

	secret := cfg.JWTSecret
	if secret == "" {
		var err error
		if secret, err = ephemeralSecret(); err != nil {
			return err
		}
		s.logger.Warn("JWT_SECRET not set, using a random secret; sessions end on restart")
	}
	tokens, err := auth.NewTokenService(secret, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	// === SERVICES ===
	authService := service.NewAuthService(s.store, tokens, auth.NewPasswordService(), cfg.AdminDiscordIDs, s.logger)
	accountService := service.NewAccountService(s.store, cfg.Location, s.logger)

	discordClient := discord.NewClient(cfg.Discord.BotToken, s.logger,
		discord.WithBaseURL(cfg.Discord.APIBase),
		discord.WithTimeout(cfg.Discord.Timeout),
	)
	if cfg.Discord.BotToken == "" {
		s.logger.Warn("DISCORD_BOT_TOKEN not set, profile lookups will fail")
	}
	candidates := roulette.FileSource{RoulettePath: cfg.RoulettePath, FriendsPath: cfg.FriendsPath}
	sampler := roulette.NewSampler(roulette.NewLockedRand(time.Now().UnixNano()), discordClient, s.logger)
	discoveryService := service.NewDiscoveryService(candidates, discordClient, sampler, accountService, cfg.PremiumRollCost, s.logger)

	// === HANDLERS ===
	var provider handler.OAuthProvider
	if cfg.OAuthEnabled() {
		provider = auth.NewDiscordProvider(cfg.Discord.ClientID, cfg.Discord.ClientSecret, cfg.Discord.CallbackURL)
	} else {
		s.logger.Warn("DISCORD_CLIENT_ID/SECRET not set, Discord sign-in is disabled")
	}
	authHandler := handler.NewAuthHandler(provider, authService, accountService,
		handler.CookieConfig{TTL: tokens.TTL(), Secure: cfg.CookieSecure}, s.logger)
	accountHandler := handler.NewAccountHandler(accountService, s.logger)
	discordHandler := handler.NewDiscordHandler(discoveryService, s.logger)

	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByAccountOrIP)
	requireAuth := auth.RequireAuth(tokens)
	optionalAuth := auth.OptionalAuth(tokens)

	// === GLOBAL MIDDLEWARE ===
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			if provider != nil {
				r.Get("/discord", authHandler.HandleDiscordLogin)
				r.Get("/discord/callback", authHandler.HandleDiscordCallback)
			}
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/logout", authHandler.HandleLogout)
			r.With(optionalAuth).Get("/session", authHandler.HandleSession)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/user", authHandler.HandleMe)
			r.Get("/user/balance", accountHandler.HandleBalance)
			r.Post("/user/balance/use", accountHandler.HandleUseBalance)
			r.Get("/user/history/{type}", accountHandler.HandleHistory)
			r.Post("/admin/update-balance", accountHandler.HandleAdminUpdateBalance)
		})

		r.Route("/discord", func(r chi.Router) {
			r.Use(optionalAuth)
			r.Use(limiter.Handler)
			r.Get("/users/{id}", discordHandler.HandleLookup)
			r.Get("/roulette", discordHandler.HandleRoulette)
			r.With(requireAuth).Post("/roulette/premium", discordHandler.HandlePremiumRoulette)
			r.Get("/friends/search", discordHandler.HandleFriendSearch)
			r.Get("/friends/{id}", discordHandler.HandleFriend)
		})
	})

	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds and closes the store.
func (s *Server) Start() error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second, // banner probes can take several Discord calls
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("store", s.config.StoreDriver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

func ephemeralSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
