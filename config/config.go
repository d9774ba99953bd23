// Package config loads verification limits from YAML for the CLI and
// other embedders. Library callers can build parser.Limits directly;
// this package exists for configuration that lives in files.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pdfverify/parser"
)

var ErrNotFound = errors.New("config file not found")

// ConfigError reports an invalid field with its location.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

type Config struct {
	Limits LimitsConfig `yaml:"limits"`
	// Repair enables the full-scan xref reconstruction fallback.
	Repair bool `yaml:"repair"`
}

type LimitsConfig struct {
	MaxIndirectDepth    int   `yaml:"max_indirect_depth"`
	MaxStringLength     int64 `yaml:"max_string_length"`
	MaxStreamLength     int64 `yaml:"max_stream_length"`
	MaxDecompressedSize int64 `yaml:"max_decompressed_size"`
	MaxPages            int   `yaml:"max_pages"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	lim := parser.DefaultLimits()
	return &Config{
		Limits: LimitsConfig{
			MaxIndirectDepth:    lim.MaxIndirectDepth,
			MaxStringLength:     lim.MaxStringLength,
			MaxStreamLength:     lim.MaxStreamLength,
			MaxDecompressedSize: lim.MaxDecompressedSize,
			MaxPages:            10000,
		},
	}
}

// Load reads and validates a YAML configuration file. Absent fields
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Field: path, Message: "invalid YAML", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Limits.MaxIndirectDepth < 0 {
		return &ConfigError{Field: "limits.max_indirect_depth", Message: "must not be negative"}
	}
	if c.Limits.MaxStringLength < 0 {
		return &ConfigError{Field: "limits.max_string_length", Message: "must not be negative"}
	}
	if c.Limits.MaxStreamLength < 0 {
		return &ConfigError{Field: "limits.max_stream_length", Message: "must not be negative"}
	}
	if c.Limits.MaxDecompressedSize < 0 {
		return &ConfigError{Field: "limits.max_decompressed_size", Message: "must not be negative"}
	}
	if c.Limits.MaxPages < 0 {
		return &ConfigError{Field: "limits.max_pages", Message: "must not be negative"}
	}
	return nil
}

// ParserLimits converts the file representation to parser.Limits.
func (c *Config) ParserLimits() parser.Limits {
	return parser.Limits{
		MaxIndirectDepth:    c.Limits.MaxIndirectDepth,
		MaxStringLength:     c.Limits.MaxStringLength,
		MaxStreamLength:     c.Limits.MaxStreamLength,
		MaxDecompressedSize: c.Limits.MaxDecompressedSize,
	}
}
