// Package config loads adscreen settings from defaults, an optional config
// file and ADSCREEN_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ADSCREEN_SERVER_PORT.
const EnvPrefix = "ADSCREEN"

// Load builds the configuration. path may be empty.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if ext := filepath.Ext(path); ext != "" {
			v.SetConfigType(ext[1:])
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	base := domain.DefaultConfig()
	if domain.Profile(v.GetString("profile")) == domain.ProfileDistributed {
		base = domain.DistributedConfig()
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg *domain.Config) {
	v.SetDefault("profile", string(cfg.Profile))

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.max_upload_size", cfg.Server.MaxUploadSize)

	v.SetDefault("engine.chunk_size", cfg.Engine.ChunkSize)
	v.SetDefault("engine.chunk_workers", cfg.Engine.ChunkWorkers)
	v.SetDefault("engine.partition_workers", cfg.Engine.PartitionWorkers)
	v.SetDefault("engine.task_timeout", cfg.Engine.TaskTimeout)
	v.SetDefault("engine.cost_limit", cfg.Engine.CostLimit)

	v.SetDefault("thresholds.click", cfg.Thresholds.Click)
	v.SetDefault("thresholds.order", cfg.Thresholds.Order)
	v.SetDefault("thresholds.acos", cfg.Thresholds.ACOS)
	v.SetDefault("thresholds.conversion", cfg.Thresholds.Conversion)
	v.SetDefault("thresholds.spend", cfg.Thresholds.Spend)
	v.SetDefault("thresholds.click_rate", cfg.Thresholds.ClickRate)

	v.SetDefault("cache.type", cfg.Cache.Type)
	v.SetDefault("cache.local_max_size", cfg.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", cfg.Cache.LocalTTL)
	v.SetDefault("cache.result_ttl", cfg.Cache.ResultTTL)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", cfg.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", cfg.Cache.EnableTwoPhase)

	v.SetDefault("eventbus.type", cfg.EventBus.Type)
	v.SetDefault("eventbus.channel_buffer_size", cfg.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.nats_url", cfg.EventBus.NATSUrl)
	v.SetDefault("eventbus.nats_token", cfg.EventBus.NATSToken)
	v.SetDefault("eventbus.nats_max_reconnects", cfg.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.nats_reconnect_wait", cfg.EventBus.NATSReconnectWait)
	v.SetDefault("eventbus.nats_queue_group", cfg.EventBus.NATSQueueGroup)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
}

// Validate rejects settings the engine or server cannot run with.
func Validate(cfg *domain.Config) error {
	switch cfg.Profile {
	case domain.ProfileStandalone, domain.ProfileDistributed:
	default:
		return fmt.Errorf("invalid profile %q", cfg.Profile)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Engine.ChunkSize <= 0 {
		return fmt.Errorf("engine chunk size must be positive, got %d", cfg.Engine.ChunkSize)
	}
	if cfg.Engine.ChunkWorkers <= 0 {
		return fmt.Errorf("engine chunk workers must be positive, got %d", cfg.Engine.ChunkWorkers)
	}
	if cfg.Engine.PartitionWorkers <= 0 {
		return fmt.Errorf("engine partition workers must be positive, got %d", cfg.Engine.PartitionWorkers)
	}
	if cfg.Engine.TaskTimeout < 0 {
		return fmt.Errorf("engine task timeout must not be negative")
	}

	t := cfg.Thresholds
	for name, val := range map[string]float64{
		"click":      t.Click,
		"order":      t.Order,
		"acos":       t.ACOS,
		"conversion": t.Conversion,
		"spend":      t.Spend,
		"click_rate": t.ClickRate,
	} {
		if val < 0 {
			return fmt.Errorf("threshold %s must not be negative, got %v", name, val)
		}
	}

	if _, err := parseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	return nil
}

// NewLogger builds the process logger from logging settings.
func NewLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
