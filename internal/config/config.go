// Package config loads relay settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the relay's runtime settings.
type Config struct {
	Addr          string        `env:"INCOGNITO_ADDR" envDefault:":8080"`
	PublicURL     string        `env:"INCOGNITO_PUBLIC_URL" envDefault:"http://localhost:8080"`
	DataDir       string        `env:"INCOGNITO_DATA_DIR" envDefault:"data"`
	PresenceTTL   time.Duration `env:"INCOGNITO_PRESENCE_TTL" envDefault:"45s"`
	SweepInterval time.Duration `env:"INCOGNITO_SWEEP_INTERVAL" envDefault:"15s"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
