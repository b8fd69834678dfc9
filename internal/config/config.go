// Package config loads weft's runtime configuration from a .weft.yaml file,
// WEFT_* environment variables and CLI flag overrides.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig indicates a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// HostConfig describes the embedding host.
type HostConfig struct {
	// Version is the host's raw version string, fed to the backend probe.
	Version string `mapstructure:"version"`
}

// TemplatesConfig controls template discovery.
type TemplatesConfig struct {
	Extension string `mapstructure:"extension"`
}

// SourcesConfig controls which files count as source definitions.
type SourcesConfig struct {
	Extensions []string `mapstructure:"extensions"`
}

// WatchConfig tunes the source monitor.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	MaxWait  time.Duration `mapstructure:"max_wait"`
	Ignore   []string      `mapstructure:"ignore"`
}

// QueueConfig tunes the generation queue.
type QueueConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig lets users pin a metadata backend by name, skipping the probe.
type BackendConfig struct {
	Force string `mapstructure:"force"`
}

// Config holds all runtime configuration for a weft session.
type Config struct {
	Root      string          `mapstructure:"root"`
	StateDir  string          `mapstructure:"state_dir"`
	Verbose   bool            `mapstructure:"verbose"`
	Host      HostConfig      `mapstructure:"host"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Backend   BackendConfig   `mapstructure:"backend"`
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("state_dir", ".weft")
	v.SetDefault("verbose", false)
	v.SetDefault("host.version", "")
	v.SetDefault("templates.extension", ".weft")
	v.SetDefault("sources.extensions", []string{".go"})
	v.SetDefault("watch.debounce", 100*time.Millisecond)
	v.SetDefault("watch.max_wait", time.Second)
	v.SetDefault("watch.ignore", []string{})
	v.SetDefault("queue.shutdown_timeout", 5*time.Second)
	v.SetDefault("backend.force", "")
}

// Load reads configuration from v, applying built-in defaults for any value
// not set by config file, environment or flags, and validates the result.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize makes extensions dot-prefixed and lowercase.
func (c *Config) normalize() {
	c.Templates.Extension = normalizeExt(c.Templates.Extension)
	exts := make([]string, 0, len(c.Sources.Extensions))
	for _, e := range c.Sources.Extensions {
		if e = normalizeExt(e); e != "" {
			exts = append(exts, e)
		}
	}
	c.Sources.Extensions = exts
}

func normalizeExt(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e != "" && !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return e
}

// Validate reports the first out-of-range value.
func (c Config) Validate() error {
	switch {
	case c.Templates.Extension == "":
		return fmt.Errorf("%w: templates.extension is empty", ErrInvalidConfig)
	case len(c.Sources.Extensions) == 0:
		return fmt.Errorf("%w: sources.extensions is empty", ErrInvalidConfig)
	case c.Watch.Debounce <= 0:
		return fmt.Errorf("%w: watch.debounce must be positive, got %s", ErrInvalidConfig, c.Watch.Debounce)
	case c.Watch.MaxWait < c.Watch.Debounce:
		return fmt.Errorf("%w: watch.max_wait (%s) is shorter than watch.debounce (%s)", ErrInvalidConfig, c.Watch.MaxWait, c.Watch.Debounce)
	case c.Queue.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: queue.shutdown_timeout must be positive", ErrInvalidConfig)
	}
	for _, e := range c.Sources.Extensions {
		if e == c.Templates.Extension {
			return fmt.Errorf("%w: %s is both a template and a source extension", ErrInvalidConfig, e)
		}
	}
	return nil
}

// statePath resolves name inside the state directory, relative to Root.
func (c Config) statePath(name string) string {
	dir := c.StateDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.Root, dir)
	}
	return filepath.Join(dir, name)
}

// HistoryPath is the SQLite status history database.
func (c Config) HistoryPath() string { return c.statePath("history.db") }

// TelemetryPath is the JSONL telemetry file.
func (c Config) TelemetryPath() string { return c.statePath("telemetry.jsonl") }

// ScratchDir is the startup scratch directory, cleared best-effort.
func (c Config) ScratchDir() string { return c.statePath("tmp") }
