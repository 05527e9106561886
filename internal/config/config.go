// Package config loads the application configuration. Values come from
// built-in defaults, then an optional YAML file, then SHEETPILOT_*
// environment variables, and the result is validated.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sheetpilot/sheetpilot/internal/ports"
)

// EnvPrefix prefixes every environment variable, e.g. SHEETPILOT_LLM_PROVIDER.
const EnvPrefix = "SHEETPILOT"

// Config is the complete application configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Audit    AuditConfig    `yaml:"audit"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level     string `yaml:"level" split_words:"true" validate:"oneof=debug info warn warning error"`
	Format    string `yaml:"format" split_words:"true" validate:"oneof=json text"`
	AddSource bool   `yaml:"add_source" split_words:"true"`
}

// LLMConfig controls the provider registry and its client middleware.
type LLMConfig struct {
	Provider string        `yaml:"provider" split_words:"true" validate:"required"`
	Model    string        `yaml:"model" split_words:"true"`
	Timeout  time.Duration `yaml:"timeout" split_words:"true" validate:"gte=0"`

	MaxRetries     int           `yaml:"max_retries" split_words:"true" validate:"gte=0,lte=10"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" split_words:"true" validate:"gte=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" split_words:"true" validate:"gtefield=RetryBaseDelay"`

	// RequestsPerSecond of 0 disables rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" split_words:"true" validate:"gte=0"`
	Burst             int     `yaml:"burst" split_words:"true" validate:"gte=1"`

	BreakerFailures int           `yaml:"breaker_failures" split_words:"true" validate:"gte=1"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" split_words:"true" validate:"gt=0"`
}

// PipelineConfig holds run defaults the CLI flags may override.
type PipelineConfig struct {
	StopOnError bool     `yaml:"stop_on_error" split_words:"true"`
	SkipUnknown bool     `yaml:"skip_unknown" split_words:"true"`
	PluginDirs  []string `yaml:"plugin_dirs" split_words:"true" validate:"dive,required"`
}

// MetricsConfig sets where the Prometheus textfile is written. Empty
// disables the export.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" split_words:"true"`
}

// AuditConfig sets the JSON-lines audit log location.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Path    string `yaml:"path" split_words:"true" validate:"required_if=Enabled true"`
}

// TracingConfig sets where finished spans are written. Empty disables
// tracing.
type TracingConfig struct {
	File        string `yaml:"file" split_words:"true"`
	ServiceName string `yaml:"service_name" split_words:"true" validate:"required"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	cfg := Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		LLM: LLMConfig{
			Provider:        "openai",
			Timeout:         30 * time.Second,
			MaxRetries:      3,
			RetryBaseDelay:  500 * time.Millisecond,
			RetryMaxDelay:   10 * time.Second,
			Burst:           1,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Audit:   AuditConfig{Enabled: true},
		Tracing: TracingConfig{ServiceName: "sheetpilot"},
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.Audit.Path = filepath.Join(home, ".sheetpilot", "audit.jsonl")
	} else {
		cfg.Audit.Enabled = false
	}
	return cfg
}

// Load builds the configuration. path names an optional YAML file; an
// empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints. The first violation is returned as
// a *ports.ConfigError keyed by the field namespace.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return ports.NewConfigError(verrs[0].Namespace(), fmt.Errorf("failed %q", verrs[0].Tag()))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
