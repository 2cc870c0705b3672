package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend names for the long-term store.
const (
	BackendTable = "table"
	BackendGraph = "graph"
)

// Config contains runtime configuration for tiermem.
type Config struct {
	ServerName  string `yaml:"server_name"`
	GraphDBPath string `yaml:"graph_db_path"`
	LogLevel    string `yaml:"log_level"`
	Backend     string `yaml:"backend"`

	MaxTokens         int     `yaml:"max_tokens"`
	ReservePercentage float64 `yaml:"reserve_percentage"`
	OverheadThreshold float64 `yaml:"overhead_threshold"`
	ContextCapacity   int     `yaml:"context_capacity"`
	PendingCapacity   int     `yaml:"pending_capacity"`

	PromoteMinImportance   float64 `yaml:"promote_min_importance"`
	PromoteMaxAgeSeconds   int     `yaml:"promote_max_age_seconds"`
	PromoteIntervalSeconds int     `yaml:"promote_interval_seconds"`
	CacheTTLSeconds        int     `yaml:"cache_ttl_seconds"`
	EventHistorySize       int     `yaml:"event_history_size"`
}

// Default returns a Config populated with safe defaults.
func Default() Config {
	return Config{
		ServerName:             "tiermem",
		GraphDBPath:            filepath.Join(userHomeDir(), ".tiermem", "memories.db"),
		LogLevel:               "info",
		Backend:                BackendTable,
		MaxTokens:              8192,
		ReservePercentage:      0.1,
		OverheadThreshold:      0.05,
		ContextCapacity:        50,
		PendingCapacity:        20,
		PromoteMinImportance:   0.5,
		PromoteMaxAgeSeconds:   0,
		PromoteIntervalSeconds: 60,
		CacheTTLSeconds:        300,
		EventHistorySize:       256,
	}
}

// Load loads config from disk; if path does not exist, default config is returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.ServerName == "" {
		return errors.New("server_name must not be empty")
	}
	if c.Backend != BackendTable && c.Backend != BackendGraph {
		return fmt.Errorf("backend must be %q or %q", BackendTable, BackendGraph)
	}
	if c.Backend == BackendGraph && c.GraphDBPath == "" {
		return errors.New("graph_db_path must not be empty when backend is graph")
	}
	if c.MaxTokens <= 0 {
		return errors.New("max_tokens must be > 0")
	}
	if c.ReservePercentage < 0 || c.ReservePercentage >= 1 {
		return errors.New("reserve_percentage must be in [0, 1)")
	}
	if c.OverheadThreshold < 0 {
		return errors.New("overhead_threshold must be >= 0")
	}
	if c.ContextCapacity <= 0 {
		return errors.New("context_capacity must be > 0")
	}
	if c.PendingCapacity <= 0 {
		return errors.New("pending_capacity must be > 0")
	}
	if c.PromoteMinImportance < 0 || c.PromoteMinImportance > 1 {
		return errors.New("promote_min_importance must be in [0, 1]")
	}
	if c.PromoteMaxAgeSeconds < 0 {
		return errors.New("promote_max_age_seconds must be >= 0")
	}
	if c.PromoteIntervalSeconds <= 0 {
		return errors.New("promote_interval_seconds must be > 0")
	}
	if c.CacheTTLSeconds < 0 {
		return errors.New("cache_ttl_seconds must be >= 0")
	}
	if c.EventHistorySize <= 0 {
		return errors.New("event_history_size must be > 0")
	}
	return nil
}

// EnsurePaths creates parent directories for config-managed paths.
func (c *Config) EnsurePaths() error {
	c.GraphDBPath = ExpandPath(c.GraphDBPath)
	parent := filepath.Dir(c.GraphDBPath)
	if parent == "." {
		return nil
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create db parent dir: %w", err)
	}
	return nil
}

// ExpandPath expands "~/" to the current user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" {
		return userHomeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(userHomeDir(), p[2:])
	}
	return p
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
