// Package config loads the engine configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/NathanRodet/chutney/pkg/strategy"
)

// Config is the engine configuration. Zero fields are filled by Default.
type Config struct {
	// DefaultStrategy applies to steps that declare no strategy.
	DefaultStrategy         string        `yaml:"defaultStrategy"`
	Retry                   RetryConfig   `yaml:"retry"`
	MaxConcurrentExecutions int           `yaml:"maxConcurrentExecutions"` // 0 = unbounded
	FinishedReportCacheSize int           `yaml:"finishedReportCacheSize"`
	Trace                   TraceConfig   `yaml:"trace"`
	Metrics                 MetricsConfig `yaml:"metrics"`
	LogLevel                string        `yaml:"logLevel"`
}

// RetryConfig holds retry-with-timeout defaults, in "<value> <unit>" form.
type RetryConfig struct {
	Timeout    string `yaml:"timeOut"`
	RetryDelay string `yaml:"retryDelay"`
}

// TraceConfig enables the JSONL audit trace when Path is set.
type TraceConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig controls the prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Address   string `yaml:"address"` // listen address for /metrics, empty = not served
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		DefaultStrategy:         strategy.TypeDefault,
		Retry:                   RetryConfig{Timeout: "30 s", RetryDelay: "1 s"},
		FinishedReportCacheSize: 100,
		Metrics:                 MetricsConfig{Namespace: "chutney"},
		LogLevel:                "info",
	}
}

// LoadFile reads a YAML configuration file on top of the defaults.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses YAML on top of the defaults with strict unknown-field
// rejection, then validates the result.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := strategy.New(c.DefaultStrategy, nil, strategy.DefaultOptions()); err != nil {
		errs = append(errs, fmt.Errorf("defaultStrategy: %w", err))
	}
	if _, err := c.StrategyOptions(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxConcurrentExecutions < 0 {
		errs = append(errs, fmt.Errorf("maxConcurrentExecutions must not be negative, got %d", c.MaxConcurrentExecutions))
	}
	if c.FinishedReportCacheSize < 0 {
		errs = append(errs, fmt.Errorf("finishedReportCacheSize must not be negative, got %d", c.FinishedReportCacheSize))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StrategyOptions converts the retry defaults.
func (c Config) StrategyOptions() (strategy.Options, error) {
	opts := strategy.DefaultOptions()
	if c.Retry.Timeout != "" {
		d, err := strategy.ParseDuration(c.Retry.Timeout)
		if err != nil {
			return opts, fmt.Errorf("retry.timeOut: %w", err)
		}
		opts.Timeout = d
	}
	if c.Retry.RetryDelay != "" {
		d, err := strategy.ParseDuration(c.Retry.RetryDelay)
		if err != nil {
			return opts, fmt.Errorf("retry.retryDelay: %w", err)
		}
		opts.RetryDelay = d
	}
	return opts, nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logLevel: unknown level %q", s)
}
