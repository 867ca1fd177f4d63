// Package config loads environment-derived settings.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

// Locker kinds selectable via CONNECTOME_LOCKER.
const (
	LockerNone   = "none"
	LockerMutex  = "mutex"
	LockerRedis  = "redis"
	LockerSqlite = "sqlite"
)

// Config holds the process settings shared by the CLI commands.
type Config struct {
	// RedisURL configures the redis locker, e.g. redis://localhost:6379/0.
	RedisURL string `env:"CONNECTOME_REDIS"`

	// StorageRoot is the default storage root for cache commands.
	StorageRoot string `env:"CONNECTOME_STORAGE"`

	// Locker selects the storage locker backend.
	Locker string `env:"CONNECTOME_LOCKER" envDefault:"mutex"`

	// LockerPath is the database path of the sqlite locker.
	LockerPath string `env:"CONNECTOME_LOCKER_PATH"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Locker {
	case LockerNone, LockerMutex:
	case LockerRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("config: redis locker requires CONNECTOME_REDIS")
		}
	case LockerSqlite:
		if c.LockerPath == "" {
			return fmt.Errorf("config: sqlite locker requires CONNECTOME_LOCKER_PATH")
		}
	default:
		return fmt.Errorf("config: unknown locker %q", c.Locker)
	}
	return nil
}
