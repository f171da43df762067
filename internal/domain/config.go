package domain

import "time"

// Config holds the complete adscreen configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Profile selects the infrastructure defaults
	Profile Profile `json:"profile" mapstructure:"profile"`

	// Engine controls chunking and worker pools
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Thresholds fill in values a request leaves unset
	Thresholds Thresholds `json:"thresholds" mapstructure:"thresholds"`

	// Component configurations
	Cache    CacheConfig    `json:"cache" mapstructure:"cache"`
	EventBus EventBusConfig `json:"eventBus" mapstructure:"eventbus"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// Profile represents a deployment profile.
type Profile string

const (
	// ProfileStandalone runs with an in-process LRU store and channel bus.
	ProfileStandalone Profile = "standalone"

	// ProfileDistributed runs with Redis and NATS so API and workers can scale apart.
	ProfileDistributed Profile = "distributed"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host          string `json:"host" mapstructure:"host"`
	Port          int    `json:"port" mapstructure:"port"`
	ReadTimeout   int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout  int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
	MaxUploadSize int64  `json:"maxUploadSize" mapstructure:"max_upload_size"`
}

// EngineConfig holds screening engine settings.
type EngineConfig struct {
	// ChunkSize is the number of rows evaluated per task.
	ChunkSize int `json:"chunkSize" mapstructure:"chunk_size"`

	// ChunkWorkers bounds concurrent chunk tasks.
	ChunkWorkers int `json:"chunkWorkers" mapstructure:"chunk_workers"`

	// PartitionWorkers bounds identifier partitions per chunk.
	PartitionWorkers int `json:"partitionWorkers" mapstructure:"partition_workers"`

	// TaskTimeout bounds a single chunk task. Zero disables the limit.
	TaskTimeout time.Duration `json:"taskTimeout" mapstructure:"task_timeout"`

	// CostLimit caps CEL evaluation cost per expression. Zero disables the limit.
	CostLimit uint64 `json:"costLimit" mapstructure:"cost_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// DefaultConfig returns the standalone configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			ReadTimeout:   60,
			WriteTimeout:  120,
			MaxUploadSize: 256 << 20,
		},
		Profile: ProfileStandalone,
		Engine: EngineConfig{
			ChunkSize:        50000,
			ChunkWorkers:     16,
			PartitionWorkers: 8,
			TaskTimeout:      5 * time.Minute,
		},
		Thresholds: DefaultThresholds(),
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 256,
			ResultTTL:    30 * time.Minute,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "adscreen",
		},
	}
}

// DistributedConfig returns a configuration backed by Redis and NATS.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileDistributed
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   64,
		LocalTTL:       5 * time.Minute,
		ResultTTL:      30 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "adscreen-workers",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
