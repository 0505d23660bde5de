// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// knownGames are the game types the probe factory accepts.
var knownGames = map[string]bool{
	"minecraft": true,
	"slp":       true,
	"source":    true,
	"bedrock":   true,
	"rcon":      true,
}

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all agent configuration.
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Monitor MonitorConfig  `yaml:"monitor"`
	Logging LoggingConfig  `yaml:"logging"`
}

// ServerConfig identifies one monitored game server and how to probe it.
type ServerConfig struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
	Game string `yaml:"game"`

	// RCONPassword and RCONCommand apply to game type "rcon".
	RCONPassword string `yaml:"rcon_password"`
	RCONCommand  string `yaml:"rcon_command"`

	// CountPattern is an optional regular expression applied by the
	// player-count extractor when no built-in format matches.
	CountPattern string `yaml:"count_pattern"`
}

// MetricsConfig holds host metrics settings.
type MetricsConfig struct {
	// Source selects where host metrics come from: "exporter" scrapes
	// the Prometheus endpoint, "local" collects in-process.
	Source   string   `yaml:"source"`
	Endpoint string   `yaml:"endpoint"`
	TTL      Duration `yaml:"ttl"`
}

// MonitorConfig holds polling settings.
type MonitorConfig struct {
	Interval     Duration `yaml:"interval"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
	Concurrency  int      `yaml:"concurrency"`

	// GatewayHost substitutes for wildcard (0.0.0.0) server addresses,
	// which are not routable from the monitor.
	GatewayHost string `yaml:"gateway_host"`

	// FallbackEndpoint is the third-party status aggregation API base URL.
	FallbackEndpoint string `yaml:"fallback_endpoint"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Source:   "exporter",
			Endpoint: "http://node-exporter:9100/metrics",
			TTL:      Duration{1 * time.Second},
		},
		Monitor: MonitorConfig{
			Interval:     Duration{30 * time.Second},
			ProbeTimeout: Duration{5 * time.Second},
			Concurrency:  8,
			GatewayHost:  "172.17.0.1",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromBytes parses YAML configuration from a byte slice and merges with defaults.
// Environment variables take highest precedence and override values from the byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config data: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Load reads configuration from a YAML file and merges with defaults.
// If path is empty or the file does not exist, only defaults and environment
// variables are used.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		return LoadFromBytes(nil)
	}

	return LoadFromBytes(data)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have the highest precedence.
func applyEnvOverrides(cfg *Config) {
	if endpoint := os.Getenv("GSM_METRICS_ENDPOINT"); endpoint != "" {
		cfg.Metrics.Endpoint = endpoint
	}
	if source := os.Getenv("GSM_METRICS_SOURCE"); source != "" {
		cfg.Metrics.Source = source
	}
	if endpoint := os.Getenv("GSM_FALLBACK_ENDPOINT"); endpoint != "" {
		cfg.Monitor.FallbackEndpoint = endpoint
	}
	if gateway := os.Getenv("GSM_GATEWAY_HOST"); gateway != "" {
		cfg.Monitor.GatewayHost = gateway
	}
	if level := os.Getenv("GSM_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// Validate checks that the configuration is usable: every server needs a
// host, a nonzero port, and a known game type, and the polling cadence
// must be positive.
func (c *Config) Validate() error {
	if c.Monitor.Interval.Duration <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	switch c.Metrics.Source {
	case "exporter", "local":
	default:
		return fmt.Errorf("metrics source must be %q or %q (got %q)", "exporter", "local", c.Metrics.Source)
	}
	for i, srv := range c.Servers {
		if srv.Host == "" {
			return fmt.Errorf("server %d (%s): host is required", i, srv.Name)
		}
		if srv.Port == 0 {
			return fmt.Errorf("server %d (%s): port is required", i, srv.Name)
		}
		if !knownGames[srv.Game] {
			return fmt.Errorf("server %d (%s): unknown game type %q", i, srv.Name, srv.Game)
		}
	}
	return nil
}
