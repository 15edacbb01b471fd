// Package config loads vibesd settings from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds daemon configuration.
type Config struct {
	// Listen is the HTTP address of the bus transport.
	Listen string `yaml:"listen"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// DBPath is the SQLite activity log. Empty disables it.
	DBPath string `yaml:"db_path"`
	// AllowedRoots bound every path a client may name. Empty means the
	// user's home directory.
	AllowedRoots []string `yaml:"allowed_roots"`
	// HistorySize bounds the buffered output per session.
	HistorySize int `yaml:"history_size"`
	// StaticDir, when set, is served at / next to the bus endpoints.
	StaticDir string `yaml:"static_dir"`

	Agent   AgentConfig   `yaml:"agent"`
	Watcher WatcherConfig `yaml:"watcher"`
	Query   QueryConfig   `yaml:"query"`
	Models  []Model       `yaml:"models"`
}

// AgentConfig describes the supervised agent process.
type AgentConfig struct {
	Binary      string        `yaml:"binary"`
	Args        []string      `yaml:"args"`
	Env         []string      `yaml:"env"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// WatcherConfig tunes the debounced file watcher.
type WatcherConfig struct {
	Debounce     time.Duration `yaml:"debounce"`
	ExcludedDirs []string      `yaml:"excluded_dirs"`
}

// QueryConfig tunes one-shot queries.
type QueryConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
	DefaultModel  string        `yaml:"default_model"`
}

// Model is one entry of the model catalogue.
type Model struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// DefaultModels is the catalogue used when none is configured.
var DefaultModels = []Model{
	{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Description: "Fast and capable"},
	{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", Description: "Most capable"},
	{ID: "claude-haiku-3-5-20241022", Name: "Claude Haiku 3.5", Description: "Fastest"},
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8420",
		LogLevel:    "info",
		DBPath:      defaultDBPath(),
		HistorySize: 1000,
		Agent: AgentConfig{
			Binary:      "claude",
			GracePeriod: 5 * time.Second,
		},
		Watcher: WatcherConfig{
			Debounce:     100 * time.Millisecond,
			ExcludedDirs: []string{"node_modules", ".git", "vendor"},
		},
		Query: QueryConfig{
			MaxConcurrent: 4,
			Timeout:       10 * time.Minute,
		},
		Models: append([]Model(nil), DefaultModels...),
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vibes", "activity.db")
}

// Load reads path on top of the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VIBES_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("CLAUDE_BINARY"); v != "" {
		c.Agent.Binary = v
	}
	if v, ok := os.LookupEnv("VIBES_DB"); ok {
		c.DBPath = v
	}
	if v := os.Getenv("VIBES_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("VIBES_MAX_QUERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Query.MaxConcurrent = n
		}
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		c.StaticDir = v
	}
	if v := os.Getenv("VIBES_ALLOWED_ROOTS"); v != "" {
		c.AllowedRoots = filepath.SplitList(v)
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Agent.Binary == "" {
		return fmt.Errorf("agent binary is empty")
	}
	if c.Agent.GracePeriod < 0 {
		return fmt.Errorf("agent grace period must not be negative")
	}
	if c.Watcher.Debounce <= 0 {
		return fmt.Errorf("watcher debounce must be positive")
	}
	if c.Query.MaxConcurrent < 1 {
		return fmt.Errorf("query max_concurrent must be at least 1")
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1")
	}
	for i, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("model %d has no id", i)
		}
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
