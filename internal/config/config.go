// Package config loads and saves the optional nciplot YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/insilichem/tangram-nciplot/internal/input"
	"github.com/insilichem/tangram-nciplot/internal/runner"
)

// Default values for run configuration.
const (
	DefaultMaxOutput = runner.DefaultMaxOutput
	DefaultCacheSize = 64
	DefaultTopic     = "nciplot.runs"
)

// FileName is the config file looked up in the working directory.
const FileName = "nciplot.yaml"

// Config holds the parsed nciplot configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Binary       string         `yaml:"binary,omitempty"`  // NCIPlot executable
	DatDir       string         `yaml:"dat_dir,omitempty"` // NCIPlot dat directory
	WorkDir      string         `yaml:"work_dir,omitempty"`
	RawTimeout   string         `yaml:"timeout,omitempty"`    // e.g. "30m"; empty means no limit
	RawMaxOutput int            `yaml:"max_output,omitempty"` // bytes per stream
	Defaults     DefaultsConfig `yaml:"defaults,omitempty"`
	Cache        CacheConfig    `yaml:"cache,omitempty"`
	Events       EventsConfig   `yaml:"events,omitempty"`
	Log          LogConfig      `yaml:"log,omitempty"`
}

// DefaultsConfig overrides the directives every run starts from.
type DefaultsConfig struct {
	OutputLevel int            `yaml:"output_level,omitempty"`
	DatCutoffs  *input.Cutoffs `yaml:"dat_cutoffs,omitempty"`
	CubeCutoffs *input.Cutoffs `yaml:"cube_cutoffs,omitempty"`
}

// CacheConfig controls where run records are kept.
type CacheConfig struct {
	Size int    `yaml:"size,omitempty"` // records held in memory
	Dir  string `yaml:"dir,omitempty"`  // default: a temp directory
}

// EventsConfig enables Kafka run events when Brokers is non-empty.
type EventsConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
}

// Timeout returns the configured run timeout, or zero for no limit.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// CacheSize returns the number of records kept in memory.
func (c *Config) CacheSize() int {
	if c.Cache.Size > 0 {
		return c.Cache.Size
	}
	return DefaultCacheSize
}

// EventsTopic returns the Kafka topic for run events.
func (c *Config) EventsTopic() string {
	if c.Events.Topic != "" {
		return c.Events.Topic
	}
	return DefaultTopic
}

// RunDefaults returns input.DefaultOptions with the configured overrides
// applied.
func (c *Config) RunDefaults() input.Options {
	opts := input.DefaultOptions()
	if c.Defaults.OutputLevel != 0 {
		opts.OutputLevel = c.Defaults.OutputLevel
	}
	if c.Defaults.DatCutoffs != nil {
		cut := *c.Defaults.DatCutoffs
		opts.DatCutoffs = &cut
	}
	if c.Defaults.CubeCutoffs != nil {
		cut := *c.Defaults.CubeCutoffs
		opts.CubeCutoffs = &cut
	}
	return opts
}

// Validate checks the configured installation without running it.
func (c *Config) Validate() error {
	if c.RawTimeout != "" {
		if d, err := time.ParseDuration(c.RawTimeout); err != nil || d < 0 {
			return fmt.Errorf("invalid timeout %q", c.RawTimeout)
		}
	}
	return runner.Validate(c.Binary, c.DatDir)
}

// Logger builds a slog.Logger writing to w.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hopts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// LoadResult holds the parsed config and the file it came from.
type LoadResult struct {
	Config *Config
	Path   string // empty when no file was found
}

// Load reads the configuration. An explicit path must exist. Otherwise
// nciplot.yaml in the working directory is tried, then DefaultPath. If
// neither exists a default Config is returned.
func Load(path string) (*LoadResult, error) {
	if path != "" {
		cfg, err := readFile(path)
		if err != nil {
			return nil, err
		}
		return &LoadResult{Config: cfg, Path: path}, nil
	}

	candidates := []string{FileName}
	if p, err := DefaultPath(); err == nil {
		candidates = append(candidates, p)
	}
	for _, p := range candidates {
		cfg, err := readFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &LoadResult{Config: cfg, Path: p}, nil
	}
	return &LoadResult{Config: &Config{}}, nil
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nciplot", "config.yaml"), nil
}

// Save validates cfg and writes it to path, creating parent directories.
// An empty path means DefaultPath.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return fmt.Errorf("locating config: %w", err)
		}
		path = p
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}
