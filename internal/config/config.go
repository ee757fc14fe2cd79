// Package config loads the registry's on-disk configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDBFile        = "threads.sqlite"
	DefaultWatchDebounce = 500 * time.Millisecond
	DefaultPollInterval  = 30 * time.Second
)

// Config is the on-disk configuration for tandem-threads.
type Config struct {
	// DBPath is the registry SQLite file. Empty means
	// <state dir>/threads.sqlite.
	DBPath string `yaml:"db_path,omitempty"`

	// Checkpoint locates the external checkpoint store (read-only).
	Checkpoint CheckpointConfig `yaml:"checkpoint,omitempty"`

	// AnonymousUserID is the sentinel owner for unauthenticated and
	// backfilled threads.
	AnonymousUserID string `yaml:"anonymous_user_id,omitempty"`
	// DefaultTitle is the placeholder title for new threads.
	DefaultTitle string `yaml:"default_title,omitempty"`
	// BackfillLimit bounds one backfill pass (default 100).
	BackfillLimit int `yaml:"backfill_limit,omitempty"`

	Watch WatchConfig `yaml:"watch,omitempty"`
	Title TitleConfig `yaml:"title,omitempty"`
	Audit AuditConfig `yaml:"audit,omitempty"`

	// LogFormat is "json" or "text". Empty lets the CLI pick by TTY.
	LogFormat string `yaml:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `yaml:"log_level,omitempty"`
}

type CheckpointConfig struct {
	DBPath string `yaml:"db_path,omitempty"`
	// Table is the checkpoint table name (default "checkpoints").
	Table string `yaml:"table,omitempty"`
}

type WatchConfig struct {
	// Debounce coalesces bursts of checkpoint writes (e.g. "500ms").
	Debounce string `yaml:"debounce,omitempty"`
	// PollInterval is the fallback reconcile cadence when fsnotify is
	// unavailable (e.g. "30s").
	PollInterval string `yaml:"poll_interval,omitempty"`
}

type TitleConfig struct {
	// Provider is "anthropic" or "openai". Empty disables title suggestion.
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	// BaseURL overrides the provider endpoint (OpenAI-compatible servers).
	BaseURL string `yaml:"base_url,omitempty"`
}

type AuditConfig struct {
	Enabled    bool  `yaml:"enabled,omitempty"`
	MaxBytes   int64 `yaml:"max_bytes,omitempty"`
	MaxBackups int   `yaml:"max_backups,omitempty"`
}

// DefaultStateDir returns ~/.tandem-threads.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".tandem-threads"
	}
	return filepath.Join(home, ".tandem-threads")
}

// DefaultConfigPath returns ~/.tandem-threads/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultStateDir(), "config.yaml")
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = filepath.Join(DefaultStateDir(), DefaultDBFile)
	}
	if strings.TrimSpace(c.AnonymousUserID) == "" {
		c.AnonymousUserID = "anonymous"
	}
	if strings.TrimSpace(c.DefaultTitle) == "" {
		c.DefaultTitle = "New Conversation"
	}
	if c.BackfillLimit <= 0 {
		c.BackfillLimit = 100
	}
	if strings.TrimSpace(c.Checkpoint.Table) == "" {
		c.Checkpoint.Table = "checkpoints"
	}
	if strings.TrimSpace(c.Watch.Debounce) == "" {
		c.Watch.Debounce = DefaultWatchDebounce.String()
	}
	if strings.TrimSpace(c.Watch.PollInterval) == "" {
		c.Watch.PollInterval = DefaultPollInterval.String()
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("missing db_path")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log_format: %s", c.LogFormat)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log_level: %s", c.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(c.Title.Provider)) {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("unknown title provider: %s", c.Title.Provider)
	}
	if _, err := c.WatchDebounce(); err != nil {
		return fmt.Errorf("invalid watch.debounce: %w", err)
	}
	if _, err := c.WatchPollInterval(); err != nil {
		return fmt.Errorf("invalid watch.poll_interval: %w", err)
	}
	return nil
}

func (c *Config) WatchDebounce() (time.Duration, error) {
	raw := strings.TrimSpace(c.Watch.Debounce)
	if raw == "" {
		return DefaultWatchDebounce, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return DefaultWatchDebounce, nil
	}
	return d, nil
}

func (c *Config) WatchPollInterval() (time.Duration, error) {
	raw := strings.TrimSpace(c.Watch.PollInterval)
	if raw == "" {
		return DefaultPollInterval, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return DefaultPollInterval, nil
	}
	return d, nil
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
