package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Environment    string
	ListenAddr     string
	DatabaseURL    string
	SettingsDBPath string
	TokenSecret    string
	TokenIssuer    string
	TokenTTL       time.Duration
}

// Load reads configuration from the environment, after loading a .env
// file when one sits next to the binary. Environment variables win over
// the file.
func Load() (*Config, error) {
	// Missing .env is fine; only explicit files are required.
	_ = godotenv.Load()

	cfg := &Config{
		Environment:    getenv("APP_ENV", "development"),
		ListenAddr:     getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SettingsDBPath: getenv("SETTINGS_DB_PATH", "clinic-settings.db"),
		TokenSecret:    os.Getenv("TOKEN_SECRET"),
		TokenIssuer:    getenv("TOKEN_ISSUER", "clinic-finance"),
	}

	ttl := getenv("TOKEN_TTL", "12h")
	d, err := time.ParseDuration(ttl)
	if err != nil {
		return nil, errors.New("TOKEN_TTL must be a duration like 12h or 30m")
	}
	cfg.TokenTTL = d

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.TokenSecret == "" {
		missing = append(missing, "TOKEN_SECRET")
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if c.Environment == "production" && len(c.TokenSecret) < 32 {
		return errors.New("TOKEN_SECRET must be at least 32 bytes in production")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
