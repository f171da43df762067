package domain

import (
	"context"
	"time"
)

// Cache stores screening results for later download.
// Entries are transient: every write carries a TTL after which the result is gone.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetResult retrieves a stored screening result.
	// Returns nil, nil if the run is unknown or expired.
	GetResult(ctx context.Context, runID string) (*Result, error)

	// SetResult stores a screening result under its run ID.
	SetResult(ctx context.Context, result *Result, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Result is a finished screening ready for download.
type Result struct {
	RunID    string  `json:"runId"`
	FileName string  `json:"fileName"`
	Summary  Summary `json:"summary"`
	CSV      []byte  `json:"csv"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	// ResultTTL is how long a finished result stays downloadable.
	ResultTTL time.Duration `mapstructure:"result_ttl"`

	// Redis settings
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enable_two_phase"` // If true, check local first, then Redis
}
