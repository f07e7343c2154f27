// Package config loads the catch-up node configuration from YAML.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BucketsConfig holds bucket list and store configurations.
type BucketsConfig struct {
	Dir          string `yaml:"dir"`
	Levels       int    `yaml:"levels"`
	Compression  string `yaml:"compression"`
	VerifyOnOpen bool   `yaml:"verify_on_open"`
}

// CatchupConfig holds catch-up apply configurations.
type CatchupConfig struct {
	// ChunkSize bounds the entries applied per applicator advance.
	ChunkSize int `yaml:"chunk_size"`
	// MaxAttempts bounds retries of a whole catch-up run.
	MaxAttempts     int    `yaml:"max_attempts"`
	InitialInterval string `yaml:"initial_interval"`
	MaxInterval     string `yaml:"max_interval"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Output string `yaml:"output"` // "stdout", "file", "none"
	File   string `yaml:"file"`   // used if output is "file"
}

// Config is the top-level configuration struct.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Buckets BucketsConfig `yaml:"buckets"`
	Catchup CatchupConfig `yaml:"catchup"`
	Logging LoggingConfig `yaml:"logging"`
}

// ParseDuration parses a duration string, returning the default if the
// string is empty or invalid. Logs a warning for invalid input.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader. Separated from file
// handling for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := &Config{
		DataDir: "./data",
		Buckets: BucketsConfig{
			Dir:         "./data/buckets",
			Levels:      11,
			Compression: "snappy",
		},
		Catchup: CatchupConfig{
			ChunkSize:       64,
			MaxAttempts:     3,
			InitialInterval: "100ms",
			MaxInterval:     "5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return Load(emptyReader{})
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()
	return Load(file)
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

func (c *Config) validate() error {
	if c.Buckets.Levels <= 0 {
		return fmt.Errorf("buckets.levels must be positive, got %d", c.Buckets.Levels)
	}
	if c.Catchup.ChunkSize <= 0 {
		return fmt.Errorf("catchup.chunk_size must be positive, got %d", c.Catchup.ChunkSize)
	}
	if c.Catchup.MaxAttempts <= 0 {
		return fmt.Errorf("catchup.max_attempts must be positive, got %d", c.Catchup.MaxAttempts)
	}
	switch c.Buckets.Compression {
	case "", "none", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown buckets.compression %q", c.Buckets.Compression)
	}
	switch c.Logging.Output {
	case "", "stdout", "file", "none":
	default:
		return fmt.Errorf("unknown logging.output %q", c.Logging.Output)
	}
	return nil
}
