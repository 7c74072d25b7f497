// ABOUTME: Configuration loading and parsing for the relay host.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay host configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queues   QueuesConfig   `yaml:"queues"`
	Requests RequestsConfig `yaml:"requests"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listener address configuration.
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the agent state store configuration. An empty path
// disables the state store; GetState/SaveState then return Unimplemented.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// QueuesConfig bounds per-connection outbound queues.
type QueuesConfig struct {
	// Size is the queue capacity per connection. Zero means the default.
	Size int `yaml:"size"`
	// OverflowPolicy is one of "block", "drop_oldest", or "reject".
	OverflowPolicy string `yaml:"overflow_policy"`
}

// RequestsConfig tunes request routing.
type RequestsConfig struct {
	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling.
	TimeoutRaw string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCAddr: "localhost:50052",
			HTTPAddr: "localhost:8089",
		},
		Queues: QueuesConfig{
			Size:           256,
			OverflowPolicy: "block",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.GRPCAddr == "" {
		return fmt.Errorf("server.grpc_addr is required")
	}
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Queues.Size < 0 {
		return fmt.Errorf("queues.size must not be negative")
	}
	switch c.Queues.OverflowPolicy {
	case "", "block", "drop_oldest", "reject":
	default:
		return fmt.Errorf("queues.overflow_policy must be one of block, drop_oldest, reject (got %q)", c.Queues.OverflowPolicy)
	}
	if c.Requests.Timeout < 0 {
		return fmt.Errorf("requests.timeout must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Requests.TimeoutRaw != "" {
		cfg.Requests.Timeout, err = time.ParseDuration(cfg.Requests.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing requests.timeout %q: %w", cfg.Requests.TimeoutRaw, err)
		}
	}

	return nil
}
