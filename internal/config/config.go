// Package config defines service configuration and how it is loaded.
//
// Values are layered: defaults from New, then an optional YAML file named by
// POTD_CONFIG, then POTD_* environment variables.
package config

import (
	"fmt"
	"strings"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Store selects the persistence backend: memory, sqlite or postgres.
	Store       string `koanf:"store"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN string `koanf:"postgres_dsn"`

	// RedisAddr enables the Redis ranking mirror when set.
	RedisAddr    string `koanf:"redis_addr"`
	RedisChannel string `koanf:"redis_channel"`

	// BasePoints is the point pool split among a problem's official solvers.
	BasePoints float64 `koanf:"base_points"`

	// RefreshWorkers is the number of refresh queue shards, one worker each.
	RefreshWorkers int `koanf:"refresh_workers"`
	// RefreshQueueSize bounds each shard.
	RefreshQueueSize int `koanf:"refresh_queue_size"`

	// LockTimeoutMS bounds how long a submission waits for its user/problem lock.
	LockTimeoutMS int `koanf:"lock_timeout_ms"`

	// DedupeSize bounds the message id guard.
	DedupeSize int `koanf:"dedupe_size"`

	MaxNicknameLen   int `koanf:"max_nickname_len"`
	MaxRankingsLimit int `koanf:"max_rankings_limit"`

	// MetricsEnabled turns Prometheus collection and the system sampler on.
	MetricsEnabled   bool   `koanf:"metrics_enabled"`
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`
	MetricsPrefix    string `koanf:"metrics_prefix"`
	// MetricsRefreshMS is the system sampler period.
	MetricsRefreshMS int `koanf:"metrics_refresh_ms"`
	// MetricsLabels and MetricsBuckets are YAML only.
	MetricsLabels  map[string]string `koanf:"metrics_labels"`
	MetricsBuckets []float64         `koanf:"metrics_buckets"`

	// Seed is provisioned into the store at startup. YAML only.
	Seed Seed `koanf:"seed"`
}

// Seed lists seasons and problems to upsert at startup.
type Seed struct {
	Seasons  []SeedSeason  `koanf:"seasons"`
	Problems []SeedProblem `koanf:"problems"`
}

// SeedSeason describes one season.
type SeedSeason struct {
	ID               int64  `koanf:"id"`
	Name             string `koanf:"name"`
	Running          bool   `koanf:"running"`
	CurrentProblemID int64  `koanf:"current_problem_id"`
}

// SeedProblem describes one problem. Date is YYYY-MM-DD.
type SeedProblem struct {
	ID         int64   `koanf:"id"`
	SeasonID   int64   `koanf:"season_id"`
	Answer     int64   `koanf:"answer"`
	Difficulty int     `koanf:"difficulty"`
	Date       string  `koanf:"date"`
	Public     bool    `koanf:"public"`
	PointPool  float64 `koanf:"point_pool"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		Store:            StoreMemory,
		RedisChannel:     "potd:refreshed",
		BasePoints:       100,
		RefreshWorkers:   4,
		RefreshQueueSize: 1024,
		LockTimeoutMS:    5000,
		DedupeSize:       50_000,
		MaxNicknameLen:   32,
		MaxRankingsLimit: 1000,
		MetricsEnabled:   true,
		MetricsNamespace: "openpotd",
		MetricsSubsystem: "core",
		MetricsRefreshMS: 10_000,
	}
}

// Validate checks value ranges and backend requirements.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.BasePoints <= 0:
		return fmt.Errorf("%w: base_points must be positive", ErrInvalidConfig)
	case c.RefreshWorkers < 1:
		return fmt.Errorf("%w: refresh_workers must be at least 1", ErrInvalidConfig)
	case c.RefreshQueueSize < 1:
		return fmt.Errorf("%w: refresh_queue_size must be at least 1", ErrInvalidConfig)
	case c.LockTimeoutMS < 0:
		return fmt.Errorf("%w: lock_timeout_ms must not be negative", ErrInvalidConfig)
	case c.MaxNicknameLen < 1:
		return fmt.Errorf("%w: max_nickname_len must be at least 1", ErrInvalidConfig)
	case c.MaxRankingsLimit < 1:
		return fmt.Errorf("%w: max_rankings_limit must be at least 1", ErrInvalidConfig)
	case c.MetricsRefreshMS < 0:
		return fmt.Errorf("%w: metrics_refresh_ms must not be negative", ErrInvalidConfig)
	}
	for i := 1; i < len(c.MetricsBuckets); i++ {
		if c.MetricsBuckets[i] <= c.MetricsBuckets[i-1] {
			return fmt.Errorf("%w: metrics_buckets must be increasing", ErrInvalidConfig)
		}
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}

	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path is required for the sqlite store", ErrInvalidConfig)
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres_dsn is required for the postgres store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}

	seasons := make(map[int64]bool, len(c.Seed.Seasons))
	for _, s := range c.Seed.Seasons {
		if s.ID <= 0 {
			return fmt.Errorf("%w: seed season id must be positive", ErrInvalidConfig)
		}
		seasons[s.ID] = true
	}
	for _, p := range c.Seed.Problems {
		if p.ID <= 0 {
			return fmt.Errorf("%w: seed problem id must be positive", ErrInvalidConfig)
		}
		if !seasons[p.SeasonID] {
			return fmt.Errorf("%w: seed problem %d references unknown season %d", ErrInvalidConfig, p.ID, p.SeasonID)
		}
	}
	return nil
}
