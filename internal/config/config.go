// Package config loads runtime settings from the environment, with an
// optional YAML file for simulation tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/statecraft/internal/trade"
)

// Config holds application configuration.
type Config struct {
	Seed         int64
	DatabaseURL  string
	Port         string
	JWTSecret    string
	RedisURL     string
	CatalogFile  string
	TickInterval time.Duration
	LogLevel     string
	LogFile      string
	ConfigFile   string

	Sim Simulation
}

// Simulation holds the tunables a CONFIG_FILE may override.
type Simulation struct {
	Nations        int          `yaml:"nations"`
	Epoch          int          `yaml:"epoch"`
	Speed          float64      `yaml:"speed"`
	DisabledStages []string     `yaml:"disabled_stages"`
	Trade          trade.Config `yaml:"trade"`
	EventBuffer    int          `yaml:"event_buffer"`
	SnapshotEvery  int          `yaml:"snapshot_every"` // days between automatic snapshots; 0 disables
	RateLimit      float64      `yaml:"rate_limit"`     // admin requests per second per client
	RateBurst      int          `yaml:"rate_burst"`
}

// DefaultSimulation returns the built-in tunables.
func DefaultSimulation() Simulation {
	return Simulation{
		Nations:       8,
		Speed:         1,
		Trade:         trade.DefaultConfig(),
		EventBuffer:   500,
		SnapshotEvery: 30,
		RateLimit:     2,
		RateBurst:     5,
	}
}

// Load reads configuration from environment variables with sensible
// defaults, then overlays CONFIG_FILE when it is set.
func Load() (*Config, error) {
	seed, err := strconv.ParseInt(envOrDefault("SEED", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse SEED: %w", err)
	}
	interval, err := time.ParseDuration(envOrDefault("TICK_INTERVAL", "1s"))
	if err != nil {
		return nil, fmt.Errorf("parse TICK_INTERVAL: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("TICK_INTERVAL must be positive, got %s", interval)
	}

	cfg := &Config{
		Seed:         seed,
		DatabaseURL:  envOrDefault("DB_DSN", "file:statecraft.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"),
		Port:         envOrDefault("API_PORT", "8080"),
		JWTSecret:    envOrDefault("JWT_SECRET", "dev-secret-change-me"),
		RedisURL:     os.Getenv("REDIS_URL"),
		CatalogFile:  os.Getenv("CATALOG_FILE"),
		TickInterval: interval,
		LogLevel:     envOrDefault("LOG_LEVEL", "info"),
		LogFile:      os.Getenv("LOG_FILE"),
		ConfigFile:   os.Getenv("CONFIG_FILE"),
		Sim:          DefaultSimulation(),
	}

	if cfg.ConfigFile != "" {
		data, err := os.ReadFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.Sim.Overlay(data); err != nil {
			return nil, fmt.Errorf("config file %s: %w", cfg.ConfigFile, err)
		}
	}
	return cfg, nil
}

// Overlay decodes YAML onto s. Fields missing from data keep their value.
func (s *Simulation) Overlay(data []byte) error {
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse simulation settings: %w", err)
	}
	if s.Nations < 0 || s.Speed < 0 || s.EventBuffer < 0 || s.SnapshotEvery < 0 {
		return fmt.Errorf("negative simulation setting in %+v", *s)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
