// Package config loads pipeline configuration from the environment, with
// an optional YAML file overlay for deployments that prefer files over
// environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig
	Pipeline  PipelineConfig
	Consumer  ConsumerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds the stats/health HTTP server configuration.
type ServerConfig struct {
	Port    string `envconfig:"PORT" yaml:"port" default:"9410"`
	Host    string `envconfig:"HOST" yaml:"host" default:"0.0.0.0"`
	Enabled bool   `envconfig:"HTTP_ENABLED" yaml:"enabled" default:"true"`
}

// PipelineConfig holds transfer pipeline configuration.
type PipelineConfig struct {
	// UnitSize is the size of one memory unit in bytes. A write never
	// crosses a unit boundary.
	UnitSize int `envconfig:"UNIT_SIZE" yaml:"unit_size" default:"4096"`
	// MaxDepth bounds the queue; the producer is rejected when full.
	// 0 disables backpressure.
	MaxDepth int `envconfig:"MAX_DEPTH" yaml:"max_depth" default:"128"`
	// MaxUnits bounds outstanding memory units; 0 means unbounded.
	MaxUnits int `envconfig:"MAX_UNITS" yaml:"max_units" default:"0"`
	// ZeroCopy pins caller memory in place; false copies into pooled
	// units.
	ZeroCopy bool `envconfig:"ZERO_COPY" yaml:"zero_copy" default:"true"`
	// MapCeiling clamps a single mapping session, in bytes.
	MapCeiling int `envconfig:"MAP_CEILING" yaml:"map_ceiling" default:"104857600"`
}

// ConsumerConfig holds consumer daemon configuration.
type ConsumerConfig struct {
	// Mode selects the consumption path: "map" (zero-copy) or "read"
	// (copying).
	Mode string `envconfig:"CONSUME_MODE" yaml:"mode" default:"map"`
	// WaitTimeout bounds one readiness wait.
	WaitTimeout time.Duration `envconfig:"WAIT_TIMEOUT" yaml:"wait_timeout" default:"1s"`
	// ErrorThreshold is the consecutive-failure count that triggers a
	// channel reopen.
	ErrorThreshold int `envconfig:"ERROR_THRESHOLD" yaml:"error_threshold" default:"10"`
	// ReopenAttempts bounds reopen retries before the daemon
	// terminates cleanly.
	ReopenAttempts int `envconfig:"REOPEN_ATTEMPTS" yaml:"reopen_attempts" default:"3"`
	// Backoff is the pause after a failed control operation.
	Backoff time.Duration `envconfig:"BACKOFF" yaml:"backoff" default:"1s"`
	// HealthInterval is the period of the self-check timer.
	HealthInterval time.Duration `envconfig:"HEALTH_INTERVAL" yaml:"health_interval" default:"5m"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" default:"info"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" default:"false"`
}

// RateLimitConfig holds rate limiting for the stats API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requests_per_second" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" default:"true"`
}

// Load loads configuration from TFSD_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("tfsd", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from the environment, then overlays the
// YAML file at path.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    "9410",
			Host:    "0.0.0.0",
			Enabled: true,
		},
		Pipeline: PipelineConfig{
			UnitSize:   4096,
			MaxDepth:   128,
			ZeroCopy:   true,
			MapCeiling: 100 << 20,
		},
		Consumer: ConsumerConfig{
			Mode:           "map",
			WaitTimeout:    time.Second,
			ErrorThreshold: 10,
			ReopenAttempts: 3,
			Backoff:        time.Second,
			HealthInterval: 5 * time.Minute,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
