package main

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config comes from the environment, optionally seeded by a .env
// file. An empty DATABASE_URL selects the in-memory store, broker and
// ledger (dev mode: nothing survives a restart).
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	SimulationWorkers int           `env:"SIM_WORKERS" envDefault:"4"`
	SolverWorkers     int           `env:"SOLVER_WORKERS" envDefault:"2"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	JobTimeout        time.Duration `env:"JOB_TIMEOUT" envDefault:"2m"`
	ShutdownGrace     time.Duration `env:"SHUTDOWN_GRACE" envDefault:"30s"`
}

func loadConfig() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
