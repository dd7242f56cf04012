// Package config loads and validates app config from the environment using Viper.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers and session stores.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	SessionStoreMemory = "memory"
	SessionStoreSQL    = "sql"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Port is the HTTP listen port.
	Port int `mapstructure:"PORT"`
	// Env is the application environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DBDriver selects the account storage: sqlite (default) or postgres.
	DBDriver string `mapstructure:"DB_DRIVER"`
	// DBPath is the SQLite file; ":memory:" for a throwaway database.
	DBPath string `mapstructure:"DB_PATH"`
	// DatabaseURL is the Postgres DSN; required when DB_DRIVER=postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// SessionStore is memory (lost on restart) or sql (shares the account database).
	SessionStore           string        `mapstructure:"SESSION_STORE"`
	SessionLifetime        time.Duration `mapstructure:"SESSION_LIFETIME"`
	SessionIdleTimeout     time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`
	SessionCleanupInterval time.Duration `mapstructure:"SESSION_CLEANUP_INTERVAL"`
	// CookieSecure marks the session and nonce cookies HTTPS-only.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	// StateSecret signs OAuth state tickets; at least 16 characters. Outside
	// production a random one is generated when unset.
	StateSecret string `mapstructure:"STATE_SECRET"`
	// StateSecretGenerated is true when StateSecret was not configured.
	StateSecretGenerated bool `mapstructure:"-"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// ProviderTimeout bounds each call to an identity provider.
	ProviderTimeout time.Duration `mapstructure:"PROVIDER_TIMEOUT"`

	FacebookClientID     string `mapstructure:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string `mapstructure:"FACEBOOK_CLIENT_SECRET"`
	FacebookCallbackURL  string `mapstructure:"FACEBOOK_CALLBACK_URL"`
	// FacebookFields is the Graph API field list requested for the profile.
	FacebookFields string `mapstructure:"FACEBOOK_FIELDS"`

	GitHubClientID     string `mapstructure:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `mapstructure:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `mapstructure:"GITHUB_CALLBACK_URL"`
}

// Load builds and validates Config from the environment via Viper.
// Callers load an optional .env file into the environment first.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 8080)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_PATH", "data/dreamteam.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SESSION_STORE", SessionStoreSQL)
	v.SetDefault("SESSION_LIFETIME", "24h")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "0s")
	v.SetDefault("SESSION_CLEANUP_INTERVAL", "5m")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("STATE_SECRET", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("FACEBOOK_CLIENT_ID", "")
	v.SetDefault("FACEBOOK_CLIENT_SECRET", "")
	v.SetDefault("FACEBOOK_CALLBACK_URL", "")
	v.SetDefault("FACEBOOK_FIELDS", "id,email,first_name,last_name,verified")
	v.SetDefault("GITHUB_CLIENT_ID", "")
	v.SetDefault("GITHUB_CLIENT_SECRET", "")
	v.SetDefault("GITHUB_CALLBACK_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.StateSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("config: generating STATE_SECRET: %w", err)
		}
		cfg.StateSecret = secret
		cfg.StateSecretGenerated = true
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("config: PORT must be between 1 and 65535")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("config: DB_PATH must be set when DB_DRIVER=sqlite")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}

	switch c.SessionStore {
	case SessionStoreMemory, SessionStoreSQL:
	default:
		return fmt.Errorf("config: SESSION_STORE must be %q or %q, got %q", SessionStoreMemory, SessionStoreSQL, c.SessionStore)
	}
	if c.SessionLifetime <= 0 {
		return errors.New("config: SESSION_LIFETIME must be positive")
	}
	if c.SessionIdleTimeout < 0 {
		return errors.New("config: SESSION_IDLE_TIMEOUT must not be negative")
	}
	if c.SessionCleanupInterval <= 0 {
		return errors.New("config: SESSION_CLEANUP_INTERVAL must be positive")
	}

	if c.StateSecret == "" && c.IsProduction() {
		return errors.New("config: STATE_SECRET must be set when APP_ENV=production")
	}
	if c.StateSecret != "" && len(c.StateSecret) < 16 {
		return errors.New("config: STATE_SECRET must be at least 16 characters")
	}

	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.ProviderTimeout <= 0 {
		return errors.New("config: PROVIDER_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// SlogLevel returns LOG_LEVEL as a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: LOG_LEVEL %q is not a log level", s)
	}
	return level, nil
}

// FacebookEnabled reports whether both Facebook client credentials are set.
func (c *Config) FacebookEnabled() bool {
	return c.FacebookClientID != "" && c.FacebookClientSecret != ""
}

// GitHubEnabled reports whether both GitHub client credentials are set.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// CallbackURL returns the configured callback for provider, or the local
// development default.
func (c *Config) CallbackURL(provider string) string {
	var configured string
	switch provider {
	case "facebook":
		configured = c.FacebookCallbackURL
	case "github":
		configured = c.GitHubCallbackURL
	}
	if configured != "" {
		return configured
	}
	return fmt.Sprintf("http://localhost:%d/auth/callback/%s", c.Port, provider)
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
