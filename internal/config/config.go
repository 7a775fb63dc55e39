package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr             string        `env:"ADDR" envDefault:":8080"`
	DatabaseURL      string        `env:"DATABASE_URL"`
	MatchExpiry      time.Duration `env:"MATCH_EXPIRY" envDefault:"3h"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`
	CreateRateLimit  int           `env:"CREATE_RATE_LIMIT" envDefault:"20"`
	CreateRateWindow time.Duration `env:"CREATE_RATE_WINDOW" envDefault:"1h"`
}

// Load reads configuration from the environment, with .env as an
// optional overlay for development.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
