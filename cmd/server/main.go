// Package main is the entry point for the Discord lookup server.
//
// main stays small: read configuration, build the logger, hand both to
// internal/server and block until shutdown. Everything else lives in
// internal/ packages so it can be tested without starting a process.
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/discord-lookup/internal/config"
	"github.com/sakif/discord-lookup/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// Defaults, then .env, then CONFIG_FILE (YAML), then the environment.
	// See internal/config for every key.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Text for humans in development, JSON for log shippers in production.
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("store", cfg.StoreDriver),
		slog.String("accrualTimezone", cfg.Location.String()),
		slog.Int("admins", len(cfg.AdminDiscordIDs)),
		slog.Bool("discordSignIn", cfg.OAuthEnabled()),
	)

	// === 3. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM and closes the store on the way out.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
