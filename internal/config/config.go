// Package config reads CLI runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values. Flags override these.
type Config struct {
	Environment     string
	CredentialsFile string
	TokenTTL        time.Duration
	RefreshMargin   time.Duration
	// DefaultRecipient is used when no --to flag is given.
	DefaultRecipient string
	ReadyTimeout     time.Duration
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Environment:      getEnv("APP_ENV", "production"),
		CredentialsFile:  os.Getenv("PUSH_CREDENTIALS_FILE"),
		TokenTTL:         time.Duration(getInt("PUSH_JWT_TTL_MINUTES", 45)) * time.Minute,
		RefreshMargin:    time.Duration(getInt("PUSH_JWT_REFRESH_MINUTES", 3)) * time.Minute,
		DefaultRecipient: strings.TrimSpace(os.Getenv("PUSH_TOKEN")),
		ReadyTimeout:     getDuration("PUSH_READY_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
