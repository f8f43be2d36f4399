package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/luminadocs/lumina/internal/security"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig
	Bridge    BridgeConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8090" toml:"port"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0" toml:"host"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" toml:"shutdown_timeout"`
	MaxSessions     int           `envconfig:"MAX_SESSIONS" default:"256" toml:"max_sessions"`
}

// BridgeConfig holds cross-boundary protocol configuration.
type BridgeConfig struct {
	RequestTimeout       time.Duration `envconfig:"BRIDGE_REQUEST_TIMEOUT" default:"30s" toml:"request_timeout"`
	HeartbeatInterval    time.Duration `envconfig:"BRIDGE_HEARTBEAT_INTERVAL" default:"30s" toml:"heartbeat_interval"`
	ReconnectAttempts    int           `envconfig:"BRIDGE_RECONNECT_ATTEMPTS" default:"3" toml:"reconnect_attempts"`
	ReconnectDelay       time.Duration `envconfig:"BRIDGE_RECONNECT_DELAY" default:"1s" toml:"reconnect_delay"`
	MaxMessageSize       int           `envconfig:"BRIDGE_MAX_MESSAGE_SIZE" default:"1048576" toml:"max_message_size"`
	EnableCompression    bool          `envconfig:"BRIDGE_COMPRESSION" default:"true" toml:"enable_compression"`
	CompressionThreshold int           `envconfig:"BRIDGE_COMPRESSION_THRESHOLD" default:"8192" toml:"compression_threshold"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" toml:"development"`
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" toml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
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
			Port:            "8090",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
			MaxSessions:     256,
		},
		Bridge: BridgeConfig{
			RequestTimeout:       30 * time.Second,
			HeartbeatInterval:    30 * time.Second,
			ReconnectAttempts:    3,
			ReconnectDelay:       1 * time.Second,
			MaxMessageSize:       1 << 20,
			EnableCompression:    true,
			CompressionThreshold: 8 << 10,
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

// ApplyFile overlays TOML overrides from path onto the config. Missing
// files are not an error so deployments can omit the file entirely.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var overlay struct {
		Server    *ServerConfig    `toml:"server"`
		Bridge    *BridgeConfig    `toml:"bridge"`
		Logging   *LogConfig       `toml:"logging"`
		RateLimit *RateLimitConfig `toml:"rate_limit"`
	}
	if err := toml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if overlay.Server != nil {
		c.Server = *overlay.Server
	}
	if overlay.Bridge != nil {
		c.Bridge = *overlay.Bridge
	}
	if overlay.Logging != nil {
		c.Logging = *overlay.Logging
	}
	if overlay.RateLimit != nil {
		c.RateLimit = *overlay.RateLimit
	}
	return nil
}

// LoadPolicyFile reads a security policy document in YAML. Fields omitted
// from the file keep their default baseline values, so a policy file can
// widen or narrow selectively.
func LoadPolicyFile(path string) (security.Policy, error) {
	policy := security.Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return policy, nil
}
