// Package config provides configuration loading and structs for the Kotae server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Data       DataConfig       `yaml:"data"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	TenantMap  TenantMapConfig  `yaml:"tenant_map"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings. APIKeys, when non-empty, gate
// every endpoint behind an X-API-Key header check.
type ServerConfig struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	APIKeys []string `yaml:"api_keys"`
}

// DataConfig holds the root directory for all tenant data.
type DataConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// EmbeddingConfig holds settings for the embedding gateway. ModelKey, when
// set, overrides default model resolution and must be a "provider:model" key
// for a credentialed provider.
type EmbeddingConfig struct {
	ModelKey       string `yaml:"model_key"`
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// CompletionConfig holds settings for the completion service.
type CompletionConfig struct {
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	MaxTokens      int    `yaml:"max_tokens"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ChunkingConfig holds the sliding-window chunking parameters (in characters).
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// TenantMapConfig selects the tenant-index-map backend. Backend is "local"
// (JSON file at Path) or "postgres" (DSN). The choice is made once at startup;
// backend failures are surfaced, never downgraded to another backend.
type TenantMapConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// WatchConfig holds docs-directory watch settings. When enabled, a change
// under any tenant's docs/ triggers a full rebuild of that tenant.
type WatchConfig struct {
	Enabled        bool `yaml:"enabled"`
	DebounceMillis int  `yaml:"debounce_millis"`
}

// Load reads and parses the config file at path, loads local.env next to it
// if present, expands paths, and applies defaults. Returns an error if the
// file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	// local.env is optional; it carries credentials like OPENAI_API_KEY.
	_ = godotenv.Load(filepath.Join(configDir, "local.env"))

	ApplyDefaults(&cfg)
	applyEnv(&cfg)

	cfg.Data.BaseDir = expandPath(cfg.Data.BaseDir, configDir)
	if cfg.TenantMap.Path != "" {
		cfg.TenantMap.Path = expandPath(cfg.TenantMap.Path, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv layers environment overrides on top of file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.ModelKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Completion.Model = v
	}
	if v := os.Getenv("TENANT_MAP_DSN"); v != "" {
		cfg.TenantMap.DSN = v
	}
	if v := os.Getenv("API_KEYS"); v != "" {
		cfg.Server.APIKeys = splitKeys(v)
	} else if v := os.Getenv("API_KEY"); v != "" {
		cfg.Server.APIKeys = []string{v}
	}
}

func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking overlap (%d) must be smaller than chunk size (%d)", c.Chunking.Overlap, c.Chunking.Size)
	}
	switch c.TenantMap.Backend {
	case "local", "postgres":
	default:
		return fmt.Errorf("unknown tenant_map backend %q (want \"local\" or \"postgres\")", c.TenantMap.Backend)
	}
	if c.TenantMap.Backend == "postgres" && c.TenantMap.DSN == "" {
		return fmt.Errorf("tenant_map backend \"postgres\" requires a dsn")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
