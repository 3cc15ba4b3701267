// Package config provides configuration loading and structs for kagami.
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

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Watch     WatchConfig     `yaml:"watch"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
}

// StoreConfig holds remote document store settings.
type StoreConfig struct {
	// Backend selects the store implementation: "postgres" or "sqlite".
	Backend string `yaml:"backend"`
	// DSN is the connection string (postgres URL or sqlite file path).
	// Overridden by KAGAMI_DATABASE_URL when set.
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedder: "openai" or "mock".
	Provider string `yaml:"provider"`
	// APIKey is overridden by OPENAI_API_KEY when set.
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	// MaxTokens bounds the text sent to the provider; content is truncated
	// to roughly four characters per token before embedding.
	MaxTokens int `yaml:"max_tokens"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directory           string   `yaml:"directory"`
	Extensions          []string `yaml:"extensions"`
	ExcludeDirs         []string `yaml:"exclude_dirs"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
}

// PollInterval returns the periodic full-pass interval.
func (w *WatchConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// CacheConfig holds the hash cache location.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds the optional status HTTP server settings.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Load reads and parses the config file at path, applies environment
// overrides and defaults, and expands relative paths. Returns an error if
// the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Watch.Directory = expandPath(cfg.Watch.Directory, configDir)
	cfg.Cache.Path = expandPath(cfg.Cache.Path, configDir)
	if cfg.Store.Backend == "sqlite" {
		cfg.Store.DSN = expandPath(cfg.Store.DSN, configDir)
	}

	return &cfg, nil
}

// applyEnvOverrides lets credentials come from the environment instead of
// the config file, so the file can be committed without secrets.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KAGAMI_DATABASE_URL"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
}

// Validate checks required settings. Any error returned here is fatal at
// startup: the process must not begin watching with an incomplete config.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required (or set KAGAMI_DATABASE_URL)"))
	}
	if c.Store.Table == "" {
		errs = append(errs, errors.New("store.table is required"))
	}
	switch c.Store.Backend {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.backend must be postgres or sqlite, got %q", c.Store.Backend))
	}
	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.APIKey == "" {
			errs = append(errs, errors.New("embedding.api_key is required (or set OPENAI_API_KEY)"))
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be openai or mock, got %q", c.Embedding.Provider))
	}
	if c.Watch.Directory == "" {
		errs = append(errs, errors.New("watch.directory is required"))
	}
	return errors.Join(errs...)
}

// MaskedAPIKey returns the embedding credential masked for logging.
func (c *Config) MaskedAPIKey() string {
	return strings.Repeat("*", len(c.Embedding.APIKey))
}

// expandPath converts a path to absolute. Relative paths are resolved
// against the config file's directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}
