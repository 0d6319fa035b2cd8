// Package config loads process configuration from environment variables,
// with an optional YAML file overlay for the transport tuning knobs that
// are awkward to express as single env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime client process's configuration: which node to
// subscribe against, how to store what it learns, and how to trace itself.
type Config struct {
	// RemoteHTTPURL is the node's HTTP surface base URL (spec.md §6).
	RemoteHTTPURL string
	// RemoteWSURL is the node's WebSocket negotiate/dial URL (C11).
	RemoteWSURL string
	LogLevel    string

	// DatabaseURL, if set, backs the fact store with SQLStore over this
	// DSN (via internal/store.OpenPostgres); otherwise an in-memory
	// store is used.
	DatabaseURL string

	OTLPEndpoint string
	TraceSample  float64

	Transport TransportConfig
}

// TransportConfig holds the C11 WebSocket transport's tunables. It is the
// one part of Config that can also be supplied via an optional YAML file,
// since hand-tuning reconnect backoff and queue sizing via individual env
// vars gets unwieldy fast. Intervals are expressed in milliseconds rather
// than time.Duration, which yaml.v3 otherwise decodes as raw nanoseconds.
type TransportConfig struct {
	HeartbeatIntervalMs   int `yaml:"heartbeat_interval_ms"`
	ReconnectBackoffMinMs int `yaml:"reconnect_backoff_min_ms"`
	ReconnectBackoffMaxMs int `yaml:"reconnect_backoff_max_ms"`
	MaxReconnectAttempts  int `yaml:"max_reconnect_attempts"`
	SendQueueCapacity     int `yaml:"send_queue_capacity"`
}

// HeartbeatInterval returns the configured heartbeat interval as a Duration.
func (t TransportConfig) HeartbeatInterval() time.Duration {
	return time.Duration(t.HeartbeatIntervalMs) * time.Millisecond
}

// ReconnectBackoffMin returns the configured minimum reconnect backoff.
func (t TransportConfig) ReconnectBackoffMin() time.Duration {
	return time.Duration(t.ReconnectBackoffMinMs) * time.Millisecond
}

// ReconnectBackoffMax returns the configured maximum reconnect backoff.
func (t TransportConfig) ReconnectBackoffMax() time.Duration {
	return time.Duration(t.ReconnectBackoffMaxMs) * time.Millisecond
}

func defaultTransportConfig() TransportConfig {
	return TransportConfig{
		HeartbeatIntervalMs:   30_000,
		ReconnectBackoffMinMs: 1_000,
		ReconnectBackoffMaxMs: 30_000,
		MaxReconnectAttempts:  0,
		SendQueueCapacity:     256,
	}
}

// Load loads configuration from environment variables. CONFIG_FILE, if
// set, names a YAML file overlaying the Transport section.
func Load() (*Config, error) {
	httpURL := os.Getenv("REMOTE_HTTP_URL")
	if httpURL == "" {
		httpURL = "http://localhost:8080"
	}

	wsURL := os.Getenv("REMOTE_WS_URL")
	if wsURL == "" {
		wsURL = "ws://localhost:8080/ws"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	databaseURL := os.Getenv("DATABASE_URL")

	otlpEndpoint := os.Getenv("OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	traceSample := 1.0
	if v := os.Getenv("TRACE_SAMPLE_RATE"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid TRACE_SAMPLE_RATE %q: %w", v, err)
		}
		traceSample = parsed
	}

	cfg := &Config{
		RemoteHTTPURL: httpURL,
		RemoteWSURL:   wsURL,
		LogLevel:      logLevel,
		DatabaseURL:   databaseURL,
		OTLPEndpoint:  otlpEndpoint,
		TraceSample:   traceSample,
		Transport:     defaultTransportConfig(),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayYAML(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) overlayYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var overlay struct {
		Transport TransportConfig `yaml:"transport"`
	}
	overlay.Transport = c.Transport
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Transport = overlay.Transport
	return nil
}
