package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

type Config struct {
	Addr            string        `env:"ADDR,default=:5000"`
	StoreDriver     string        `env:"STORE_DRIVER,default=memory"`
	StoreDSN        string        `env:"STORE_DSN,default=lounge.db"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=15s"`
	StaleThreshold  time.Duration `env:"STALE_THRESHOLD,default=10s"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	HubBuffer       int           `env:"HUB_BUFFER,default=256"`
}

// Load reads envFile if it exists, then the process environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverBadger:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, sqlite3, postgres, badger, got %q", c.StoreDriver)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.StaleThreshold <= 0 {
		return fmt.Errorf("STALE_THRESHOLD must be positive, got %s", c.StaleThreshold)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	if c.HubBuffer <= 0 {
		return fmt.Errorf("HUB_BUFFER must be positive, got %d", c.HubBuffer)
	}
	return nil
}
