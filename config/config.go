// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backend types.
const (
	StorageMemory = "memory"
	StorageBadger = "badger"
	StorageRedis  = "redis"
	StorageEtcd   = "etcd"
)

// Config holds all configuration for the consumer group service and the
// producer.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Group    GroupConfig    `yaml:"group"`
	Liveness LivenessConfig `yaml:"liveness"`
	Lock     LockConfig     `yaml:"lock"`
	Report   ReportConfig   `yaml:"report"`
	Producer ProducerConfig `yaml:"producer"`
}

// ServerConfig holds health and telemetry settings.
type ServerConfig struct {
	HealthAddr      string        `yaml:"health_addr"`
	HealthEnabled   bool          `yaml:"health_enabled"`
	MetricsAddr     string        `yaml:"metrics_addr"` // OTLP gRPC endpoint
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// OpenTelemetry configuration
	OtelServiceName     string  `yaml:"otel_service_name"`
	OtelServiceVersion  string  `yaml:"otel_service_version"`
	OtelTracesEnabled   bool    `yaml:"otel_traces_enabled"`
	OtelMetricsEnabled  bool    `yaml:"otel_metrics_enabled"`
	OtelTraceSampleRate float64 `yaml:"otel_trace_sample_rate"` // 0.0 to 1.0
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StorageConfig holds coordination backend configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, badger, redis, etcd

	Redis   RedisConfig   `yaml:"redis"`
	Etcd    EtcdConfig    `yaml:"etcd"`
	Badger  BadgerConfig  `yaml:"badger"`
	Breaker BreakerConfig `yaml:"circuit_breaker"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"` // 0 uses the client default
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// EtcdConfig holds etcd connection settings.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// Embedded etcd settings. When enabled Endpoints is ignored.
	Embedded   bool   `yaml:"embedded"`
	Name       string `yaml:"name"`
	DataDir    string `yaml:"data_dir"`
	ClientAddr string `yaml:"client_addr"` // e.g. "127.0.0.1:2379"
	PeerAddr   string `yaml:"peer_addr"`   // e.g. "127.0.0.1:2380"
}

// BadgerConfig holds BadgerDB settings.
type BadgerConfig struct {
	Dir        string        `yaml:"dir"`
	InMemory   bool          `yaml:"in_memory"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// BreakerConfig holds the circuit breaker guarding backend calls.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// GroupConfig holds consumer group settings.
type GroupConfig struct {
	Size    int    `yaml:"size"`
	Channel string `yaml:"channel"` // broadcast channel
	Stream  string `yaml:"stream"`  // processed log
}

// LivenessConfig holds consumer liveness settings.
type LivenessConfig struct {
	Set               string        `yaml:"set"`
	TTL               time.Duration `yaml:"ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// LockConfig holds per-message lock settings.
type LockConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ReportConfig holds throughput reporter settings.
type ReportConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// ProducerConfig holds load producer settings.
type ProducerConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	Duration   time.Duration `yaml:"duration"`
	Indefinite bool          `yaml:"indefinite"`
	MinPause   time.Duration `yaml:"min_pause"`
	MaxPause   time.Duration `yaml:"max_pause"`
	Rate       float64       `yaml:"rate"` // messages per second, 0 = unlimited
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HealthAddr:      ":8081",
			HealthEnabled:   true,
			MetricsAddr:     "localhost:4317",
			MetricsEnabled:  false,
			ShutdownTimeout: 30 * time.Second,

			// OpenTelemetry defaults
			OtelServiceName:     "fluxgroup",
			OtelServiceVersion:  "1.0.0",
			OtelMetricsEnabled:  true,
			OtelTracesEnabled:   false,
			OtelTraceSampleRate: 0.1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Type: StorageRedis,
			Redis: RedisConfig{
				Addr:        "localhost:6379",
				DialTimeout: 5 * time.Second,
			},
			Etcd: EtcdConfig{
				Endpoints:   []string{"localhost:2379"},
				Prefix:      "/fluxgroup/",
				DialTimeout: 5 * time.Second,
				Name:        "fluxgroup",
				DataDir:     "/tmp/fluxgroup/etcd",
				ClientAddr:  "127.0.0.1:2379",
				PeerAddr:    "127.0.0.1:2380",
			},
			Badger: BadgerConfig{
				Dir:        "/tmp/fluxgroup/data",
				GCInterval: 5 * time.Minute,
			},
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				ResetTimeout:     10 * time.Second,
			},
		},
		Group: GroupConfig{
			Size:    5,
			Channel: "messages:published",
			Stream:  "messages:processed",
		},
		Liveness: LivenessConfig{
			Set:               "consumer:ids",
			TTL:               10 * time.Second,
			HeartbeatInterval: 8 * time.Second,
		},
		Lock: LockConfig{
			TTL: 30 * time.Second,
		},
		Report: ReportConfig{
			Enabled:  true,
			Interval: 5 * time.Second,
		},
		Producer: ProducerConfig{
			BatchSize: 100,
			Duration:  time.Minute,
			MinPause:  100 * time.Millisecond,
			MaxPause:  500 * time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	if c.Group.Size < 1 {
		return fmt.Errorf("group.size must be at least 1")
	}
	if c.Group.Channel == "" {
		return fmt.Errorf("group.channel cannot be empty")
	}
	if c.Group.Stream == "" {
		return fmt.Errorf("group.stream cannot be empty")
	}

	if c.Liveness.Set == "" {
		return fmt.Errorf("liveness.set cannot be empty")
	}
	if c.Liveness.TTL < time.Second {
		return fmt.Errorf("liveness.ttl must be at least 1 second")
	}
	if c.Liveness.HeartbeatInterval <= 0 || c.Liveness.HeartbeatInterval >= c.Liveness.TTL {
		return fmt.Errorf("liveness.heartbeat_interval must be positive and shorter than liveness.ttl")
	}

	if c.Lock.TTL < time.Second {
		return fmt.Errorf("lock.ttl must be at least 1 second")
	}

	if c.Report.Enabled && c.Report.Interval < 100*time.Millisecond {
		return fmt.Errorf("report.interval must be at least 100ms")
	}

	if c.Producer.BatchSize < 1 {
		return fmt.Errorf("producer.batch_size must be at least 1")
	}
	if c.Producer.MinPause < 0 || c.Producer.MaxPause < c.Producer.MinPause {
		return fmt.Errorf("producer.max_pause must not be below producer.min_pause")
	}
	if c.Producer.Rate < 0 {
		return fmt.Errorf("producer.rate cannot be negative")
	}

	// OpenTelemetry validation (only if metrics enabled)
	if c.Server.MetricsEnabled {
		if c.Server.OtelServiceName == "" {
			return fmt.Errorf("server.otel_service_name cannot be empty when metrics enabled")
		}
		if c.Server.OtelTraceSampleRate < 0.0 || c.Server.OtelTraceSampleRate > 1.0 {
			return fmt.Errorf("server.otel_trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	if c.Server.HealthEnabled && c.Server.HealthAddr == "" {
		return fmt.Errorf("server.health_addr required when health is enabled")
	}

	return nil
}

func (s StorageConfig) validate() error {
	switch s.Type {
	case StorageMemory:
	case StorageBadger:
		if s.Badger.Dir == "" && !s.Badger.InMemory {
			return fmt.Errorf("storage.badger.dir required when type is badger")
		}
	case StorageRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr required when type is redis")
		}
	case StorageEtcd:
		if s.Etcd.Embedded {
			if s.Etcd.DataDir == "" {
				return fmt.Errorf("storage.etcd.data_dir required when etcd is embedded")
			}
			if s.Etcd.ClientAddr == "" || s.Etcd.PeerAddr == "" {
				return fmt.Errorf("storage.etcd.client_addr and storage.etcd.peer_addr required when etcd is embedded")
			}
		} else if len(s.Etcd.Endpoints) == 0 {
			return fmt.Errorf("storage.etcd.endpoints required when type is etcd")
		}
	default:
		return fmt.Errorf("storage.type must be one of: memory, badger, redis, etcd")
	}

	if s.Breaker.Enabled {
		if s.Breaker.FailureThreshold < 1 {
			return fmt.Errorf("storage.circuit_breaker.failure_threshold must be at least 1")
		}
		if s.Breaker.ResetTimeout < 100*time.Millisecond {
			return fmt.Errorf("storage.circuit_breaker.reset_timeout must be at least 100ms")
		}
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
