// Package config loads controller configuration from JSON or YAML files
// with environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oriys/pulsar/internal/wrapper"
)

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr  string `json:"http_addr" yaml:"http_addr"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"` // text, json
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	Namespace string    `json:"namespace" yaml:"namespace"`
	Buckets   []float64 `json:"buckets" yaml:"buckets"`
}

// ObservabilityConfig groups tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// ProtocolConfig exposes the wrapper protocol's timing constants.
// All values are optional; zero selects the protocol defaults.
type ProtocolConfig struct {
	ExitPollMs         int `json:"exit_poll_ms" yaml:"exit_poll_ms"`
	SettleMs           int `json:"settle_ms" yaml:"settle_ms"`
	HeartbeatIntervalS int `json:"heartbeat_interval_s" yaml:"heartbeat_interval_s"`
	HeartbeatMisses    int `json:"heartbeat_misses" yaml:"heartbeat_misses"`
	StopPollS          int `json:"stop_poll_s" yaml:"stop_poll_s"`
}

// Intervals converts the configured values to protocol intervals.
func (c ProtocolConfig) Intervals() wrapper.Intervals {
	return wrapper.Intervals{
		ExitPoll:        time.Duration(c.ExitPollMs) * time.Millisecond,
		Settle:          time.Duration(c.SettleMs) * time.Millisecond,
		Heartbeat:       time.Duration(c.HeartbeatIntervalS) * time.Second,
		HeartbeatMisses: c.HeartbeatMisses,
		StopPoll:        time.Duration(c.StopPollS) * time.Second,
	}.WithDefaults()
}

// Config is the root controller configuration.
type Config struct {
	StateDir      string                  `json:"state_dir" yaml:"state_dir"`
	Daemon        DaemonConfig            `json:"daemon" yaml:"daemon"`
	Observability ObservabilityConfig     `json:"observability" yaml:"observability"`
	Protocol      ProtocolConfig          `json:"protocol" yaml:"protocol"`
	Preallocate   map[string]*PoolSection `json:"preallocate" yaml:"preallocate"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		StateDir: wrapper.DefaultRootDir,
		Daemon: DaemonConfig{
			HTTPAddr:  ":8317",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "localhost:4318",
				ServiceName: "pulsar",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "pulsar",
			},
		},
		Preallocate: map[string]*PoolSection{},
	}
}

// Load reads a config file (JSON, or YAML for .yaml/.yml extensions),
// fills defaults, and applies environment overrides. An empty path loads
// defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.fillDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PULSAR_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("PULSAR_HTTP_ADDR"); v != "" {
		c.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("PULSAR_LOG_LEVEL"); v != "" {
		c.Daemon.LogLevel = v
	}
	if v := os.Getenv("PULSAR_LOG_FORMAT"); v != "" {
		c.Daemon.LogFormat = v
	}
	if v := os.Getenv("PULSAR_TRACING_ENABLED"); v != "" {
		c.Observability.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PULSAR_TRACING_ENDPOINT"); v != "" {
		c.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("PULSAR_METRICS_ENABLED"); v != "" {
		c.Observability.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PULSAR_HEARTBEAT_INTERVAL_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Protocol.HeartbeatIntervalS = n
		}
	}
}

func (c *Config) fillDefaults() {
	if c.StateDir == "" {
		c.StateDir = wrapper.DefaultRootDir
	}
	if c.Daemon.HTTPAddr == "" {
		c.Daemon.HTTPAddr = ":8317"
	}
	if c.Observability.Metrics.Namespace == "" {
		c.Observability.Metrics.Namespace = "pulsar"
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = "pulsar"
	}
	if c.Preallocate == nil {
		c.Preallocate = map[string]*PoolSection{}
	}
}

func (c *Config) validate() error {
	for key, sec := range c.Preallocate {
		if sec == nil {
			continue
		}
		if sec.Jobs < 0 {
			return fmt.Errorf("preallocate.%s: jobs must not be negative", key)
		}
	}
	return nil
}
