// Package config loads server configuration from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"*"`

	// DatabaseURL selects the postgres store. When empty, SQLitePath selects
	// the sqlite store, and when that is empty too the server runs on the
	// seeded in-memory store.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	ShopName                string `envconfig:"SHOP_NAME" default:"Shop Ledger"`
	DuplicateWindowSeconds  int    `envconfig:"DUPLICATE_WINDOW_SECONDS" default:"120"`
	LedgerDisplayThreshold  int    `envconfig:"LEDGER_DISPLAY_THRESHOLD" default:"10"`
	ShutdownTimeoutSeconds  int    `envconfig:"SHUTDOWN_TIMEOUT_SECONDS" default:"10"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowSeconds) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
