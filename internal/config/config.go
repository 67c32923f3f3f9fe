package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"qback/internal/logger"
)

// Config represents the application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   logger.Config   `yaml:"logging"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AppConfig represents application identity configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// DatabaseConfig represents postgres connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpen         int           `yaml:"max_open"`
	MaxIdle         int           `yaml:"max_idle"`
	Timeout         time.Duration `yaml:"timeout"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig represents the factor-cache / rate-limit backend
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// BacktestConfig represents engine defaults for a run
type BacktestConfig struct {
	Workers          int           `yaml:"workers"`            // factor worker pool size
	ChunkDays        int           `yaml:"chunk_days"`         // dates per factor chunk
	CacheTTL         time.Duration `yaml:"cache_ttl"`          // factor chunk TTL
	ProgressInterval time.Duration `yaml:"progress_interval"`  // min gap between progress writes
	RiskFreeRate     float64       `yaml:"risk_free_rate"`     // annualized, for Sharpe
	ExtendedLookback int           `yaml:"extended_lookback"`  // calendar days of extra history
	SnapshotRetries  int           `yaml:"snapshot_retries"`   // per-day persist retries
}

// RateLimitConfig caps concurrently running simulations per user
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	TTL               time.Duration `yaml:"ttl"`
}

// MetricsConfig represents prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Load loads configuration from a YAML file, expanding ${ENV} references
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration defaults applied before file values
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:    "qback",
			Version: "dev",
			Env:     "development",
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			MaxOpen: 25,
			MaxIdle: 5,
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Logging: logger.DefaultConfig,
		Backtest: BacktestConfig{
			Workers:          4,
			ChunkDays:        20,
			CacheTTL:         6 * time.Hour,
			ProgressInterval: 2 * time.Second,
			RiskFreeRate:     0.02,
			ExtendedLookback: 365,
			SnapshotRetries:  1,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			MaxConcurrentRuns: 3,
			TTL:               24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
			Addr: ":9180",
		},
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database port out of range: %d", c.Database.Port)
	}
	if c.Backtest.Workers <= 0 {
		return fmt.Errorf("backtest workers must be positive: %d", c.Backtest.Workers)
	}
	if c.Backtest.ChunkDays <= 0 {
		return fmt.Errorf("backtest chunk_days must be positive: %d", c.Backtest.ChunkDays)
	}
	if c.Backtest.RiskFreeRate < 0 || c.Backtest.RiskFreeRate > 1 {
		return fmt.Errorf("risk_free_rate out of range: %f", c.Backtest.RiskFreeRate)
	}
	if c.RateLimit.Enabled && c.RateLimit.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("max_concurrent_runs must be positive when rate limiting is enabled")
	}
	return nil
}
