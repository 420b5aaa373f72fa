// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the on-sale client.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Queue     QueueConfig     `yaml:"queue"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Session   SessionConfig   `yaml:"session"`
	Log       LogConfig       `yaml:"log"`
	Otel      OtelConfig      `yaml:"otel"`
}

// BackendConfig holds ticketing backend connection settings.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	// Stream transport for rank updates: "sse" or "ws"
	StreamTransport string `yaml:"stream_transport"`
}

// QueueConfig holds admission queue client settings.
type QueueConfig struct {
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	GraceDelay           time.Duration `yaml:"grace_delay"`

	// Assumed dequeue throughput used for wait estimates
	DequeueRatePerMinute int `yaml:"dequeue_rate_per_minute"`
}

// ReconcileConfig holds inventory reconciliation settings.
type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"`
	Backoff  time.Duration `yaml:"backoff"`

	// Pending commit lifetime before it is dropped unconfirmed
	CommitTTL time.Duration `yaml:"commit_ttl"`
}

// SessionConfig holds booking marker storage settings.
type SessionConfig struct {
	Store string `yaml:"store"` // memory, redis

	// Redis settings
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	MarkerTTL     time.Duration `yaml:"marker_ttl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// OtelConfig holds OpenTelemetry metrics configuration.
type OtelConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"` // OTLP gRPC endpoint
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:         "http://localhost:8080",
			Timeout:         10 * time.Second,
			StreamTransport: "sse",
		},
		Queue: QueueConfig{
			ReconnectDelay:       2 * time.Second,
			MaxReconnectAttempts: 5,
			GraceDelay:           2 * time.Second,
			DequeueRatePerMinute: 30,
		},
		Reconcile: ReconcileConfig{
			Interval:  5 * time.Second,
			Backoff:   10 * time.Second,
			CommitTTL: 5 * time.Minute,
		},
		Session: SessionConfig{
			Store:     "memory",
			RedisAddr: "localhost:6379",
			KeyPrefix: "gaterush",
			MarkerTTL: 30 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Otel: OtelConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			ServiceName:    "gaterush",
			ServiceVersion: "1.0.0",
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
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url cannot be empty")
	}
	if c.Backend.Timeout < time.Second {
		return fmt.Errorf("backend.timeout must be at least 1 second")
	}
	if c.Backend.StreamTransport != "sse" && c.Backend.StreamTransport != "ws" {
		return fmt.Errorf("backend.stream_transport must be 'sse' or 'ws'")
	}

	if c.Queue.ReconnectDelay < 100*time.Millisecond {
		return fmt.Errorf("queue.reconnect_delay must be at least 100ms")
	}
	if c.Queue.MaxReconnectAttempts < 1 {
		return fmt.Errorf("queue.max_reconnect_attempts must be at least 1")
	}
	if c.Queue.GraceDelay < 0 {
		return fmt.Errorf("queue.grace_delay cannot be negative")
	}
	if c.Queue.DequeueRatePerMinute < 1 {
		return fmt.Errorf("queue.dequeue_rate_per_minute must be at least 1")
	}

	if c.Reconcile.Interval < time.Second {
		return fmt.Errorf("reconcile.interval must be at least 1 second")
	}
	if c.Reconcile.Backoff < c.Reconcile.Interval {
		return fmt.Errorf("reconcile.backoff must be at least the poll interval")
	}
	if c.Reconcile.CommitTTL < time.Minute {
		return fmt.Errorf("reconcile.commit_ttl must be at least 1 minute")
	}

	validStores := map[string]bool{"memory": true, "redis": true}
	if !validStores[c.Session.Store] {
		return fmt.Errorf("session.store must be one of: memory, redis")
	}
	if c.Session.Store == "redis" {
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr required when store is redis")
		}
		if c.Session.MarkerTTL < time.Minute {
			return fmt.Errorf("session.marker_ttl must be at least 1 minute")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Otel.Enabled {
		if c.Otel.Endpoint == "" {
			return fmt.Errorf("otel.endpoint cannot be empty when metrics enabled")
		}
		if c.Otel.ServiceName == "" {
			return fmt.Errorf("otel.service_name cannot be empty when metrics enabled")
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
