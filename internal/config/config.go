// Package config loads application settings.
//
// Sources, later ones winning:
//
//  1. built-in defaults
//  2. .env in the working directory (optional, via godotenv)
//  3. a YAML file named by CONFIG_FILE (optional)
//  4. process environment variables
//
// Load normalises and validates the result, so callers can trust every field.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DefaultAdminDiscordID is the account that may adjust balances when
// ADMIN_DISCORD_IDS is not set.
const DefaultAdminDiscordID = "1221785564450394186"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DiscordConfig holds the bot and OAuth application credentials.
type DiscordConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	CallbackURL  string        `yaml:"callback_url"`
	BotToken     string        `yaml:"bot_token"`
	APIBase      string        `yaml:"api_base"`
	Timeout      time.Duration `yaml:"-"`
}

// Config holds all configuration values for the application.
type Config struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`  // debug|info|warn|error
	LogFormat string `yaml:"log_format"` // text|json
	StaticDir string `yaml:"static_dir"`

	// Storage
	StoreDriver string `yaml:"store_driver"`
	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`

	// Sessions
	JWTSecret    string        `yaml:"jwt_secret"`
	SessionTTL   time.Duration `yaml:"-"`
	CookieSecure bool          `yaml:"cookie_secure"`

	Discord DiscordConfig `yaml:"discord"`

	// Candidate files
	RoulettePath string `yaml:"roulette_path"`
	FriendsPath  string `yaml:"friends_path"`

	// Balance
	AdminDiscordIDs []string       `yaml:"admin_discord_ids"`
	AccrualTimezone string         `yaml:"accrual_timezone"`
	Location        *time.Location `yaml:"-"`
	PremiumRollCost int            `yaml:"premium_roll_cost"`

	// Rate limiting of /api/discord
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
}

// durations are read from YAML as strings ("168h", "5s"); yaml.v2 has no
// native time.Duration support.
type durations struct {
	SessionTTL string `yaml:"session_ttl"`
	Discord    struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"discord"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:        8080,
		LogLevel:    "info",
		LogFormat:   "text",
		StaticDir:   "web/static",
		StoreDriver: DriverSQLite,
		DBPath:      "data/discord-lookup.db",
		SessionTTL:  7 * 24 * time.Hour,
		Discord: DiscordConfig{
			APIBase: "https://discord.com/api/v10",
			Timeout: 5 * time.Second,
		},
		RoulettePath:    "data/roulette.txt",
		FriendsPath:     "data/friends.txt",
		AdminDiscordIDs: []string{DefaultAdminDiscordID},
		AccrualTimezone: "UTC",
		PremiumRollCost: 1,
		RateRPS:         5,
		RateBurst:       10,
	}
}

// Load builds the configuration from every source and validates it.
func Load() (Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading .env: %w", err)
	}

	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path onto cfg. Keys the file does not
// mention keep their current value.
func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	var d durations
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if d.SessionTTL != "" {
		if cfg.SessionTTL, err = time.ParseDuration(d.SessionTTL); err != nil {
			return fmt.Errorf("config: session_ttl: %w", err)
		}
	}
	if d.Discord.Timeout != "" {
		if cfg.Discord.Timeout, err = time.ParseDuration(d.Discord.Timeout); err != nil {
			return fmt.Errorf("config: discord.timeout: %w", err)
		}
	}
	return nil
}

// applyEnv lets environment variables override whatever is in cfg.
func applyEnv(cfg *Config) {
	cfg.Port = getint("PORT", cfg.Port)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	cfg.StaticDir = getenv("STATIC_DIR", cfg.StaticDir)

	cfg.StoreDriver = getenv("STORE_DRIVER", cfg.StoreDriver)
	cfg.DBPath = getenv("DB_PATH", cfg.DBPath)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)

	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.SessionTTL = getdur("SESSION_TTL", cfg.SessionTTL)
	cfg.CookieSecure = getbool("COOKIE_SECURE", cfg.CookieSecure)

	cfg.Discord.ClientID = getenv("DISCORD_CLIENT_ID", cfg.Discord.ClientID)
	cfg.Discord.ClientSecret = getenv("DISCORD_CLIENT_SECRET", cfg.Discord.ClientSecret)
	cfg.Discord.CallbackURL = getenv("DISCORD_CALLBACK_URL", cfg.Discord.CallbackURL)
	cfg.Discord.BotToken = getenv("DISCORD_BOT_TOKEN", cfg.Discord.BotToken)
	cfg.Discord.APIBase = getenv("DISCORD_API_BASE", cfg.Discord.APIBase)
	cfg.Discord.Timeout = getdur("DISCORD_TIMEOUT", cfg.Discord.Timeout)

	cfg.RoulettePath = getenv("ROULETTE_PATH", cfg.RoulettePath)
	cfg.FriendsPath = getenv("FRIENDS_PATH", cfg.FriendsPath)

	if v, ok := os.LookupEnv("ADMIN_DISCORD_IDS"); ok {
		cfg.AdminDiscordIDs = splitCSV(v)
	}
	cfg.AccrualTimezone = getenv("ACCRUAL_TIMEZONE", cfg.AccrualTimezone)
	cfg.PremiumRollCost = getint("PREMIUM_ROLL_COST", cfg.PremiumRollCost)

	cfg.RateRPS = getfloat("RATE_RPS", cfg.RateRPS)
	cfg.RateBurst = getint("RATE_BURST", cfg.RateBurst)
}

func (cfg *Config) normalize() error {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.Discord.APIBase = strings.TrimRight(cfg.Discord.APIBase, "/")

	if cfg.Discord.CallbackURL == "" {
		cfg.Discord.CallbackURL = fmt.Sprintf("http://localhost:%d/api/auth/discord/callback", cfg.Port)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("config: LOG_LEVEL must be one of: debug, info, warn, error")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return errors.New("config: LOG_FORMAT must be text or json")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", cfg.Port)
	}

	switch cfg.StoreDriver {
	case DriverSQLite:
		if strings.TrimSpace(cfg.DBPath) == "" {
			return errors.New("config: DB_PATH must not be empty for the sqlite store")
		}
	case DriverPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: DATABASE_URL is required for the postgres store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	if cfg.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}
	if cfg.Discord.Timeout <= 0 {
		return errors.New("config: DISCORD_TIMEOUT must be positive")
	}

	loc, err := time.LoadLocation(cfg.AccrualTimezone)
	if err != nil {
		return fmt.Errorf("config: ACCRUAL_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	if cfg.PremiumRollCost < 1 {
		return errors.New("config: PREMIUM_ROLL_COST must be >= 1")
	}
	if cfg.RateRPS <= 0 {
		return errors.New("config: RATE_RPS must be > 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("config: RATE_BURST must be >= 1")
	}
	return nil
}

// OAuthEnabled reports whether Discord sign-in can be offered.
func (cfg Config) OAuthEnabled() bool {
	return cfg.Discord.ClientID != "" && cfg.Discord.ClientSecret != ""
}

// ---- env helpers; unparsable values fall back to def ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

// splitCSV splits on commas, trimming blanks and dropping empty entries.
func splitCSV(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
