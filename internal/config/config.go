// Package config loads server configuration from a YAML file with
// environment-variable overrides for credentials. Every field has a working
// default so a bare `voicesearch serve` runs against local storage; only the
// API key must come from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends selectable via the `store` key.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Embedder backends selectable via the `embedder.backend` key.
const (
	EmbedderAPI   = "api"
	EmbedderLocal = "local"
)

// GeneratorConfig configures the candidate generation model.
type GeneratorConfig struct {
	// Model is the chat model used to propose candidates.
	Model string `yaml:"model"`
	// BaseURL points at an OpenAI-compatible chat completions endpoint.
	BaseURL string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the API key. The key
	// itself never appears in config files.
	APIKeyEnv string `yaml:"api_key_env"`
}

// EmbedderConfig configures duplicate detection embeddings.
type EmbedderConfig struct {
	// Backend selects "api" (embedding endpoint) or "local" (hashed
	// feature embedder, no network).
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	// APIKeyEnv defaults to the generator's when empty.
	APIKeyEnv string `yaml:"api_key_env"`
}

// RendererConfig configures text-to-speech rendering.
type RendererConfig struct {
	// APIKeyEnv defaults to the generator's when empty.
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
	// Concurrency caps parallel render calls per iteration.
	Concurrency int `yaml:"concurrency"`
}

// Config is the full server configuration.
type Config struct {
	// Host and Port form the HTTP listen address.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DataDir is the root for session snapshots and audio artifacts.
	DataDir string `yaml:"data_dir"`

	// Store selects the session store backend: file, sqlite, or memory.
	Store string `yaml:"store"`

	Generator GeneratorConfig `yaml:"generator"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Renderer  RendererConfig  `yaml:"renderer"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Host:    "127.0.0.1",
		Port:    8000,
		DataDir: "data",
		Store:   StoreFile,
		Generator: GeneratorConfig{
			Model:     "qwen2.5-72b-instruct",
			BaseURL:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
			APIKeyEnv: "DASHSCOPE_API_KEY",
		},
		Embedder: EmbedderConfig{
			Backend: EmbedderLocal,
			Model:   "text-embedding-3-small",
		},
		Renderer: RendererConfig{
			Timeout:     60 * time.Second,
			Concurrency: 3,
		},
	}
}

// Load reads the YAML file at path, layered over defaults. An empty path
// returns defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values without touching the environment; missing API
// keys are reported lazily by the components that need them.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	switch c.Store {
	case StoreFile, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	switch c.Embedder.Backend {
	case EmbedderAPI, EmbedderLocal:
	default:
		return fmt.Errorf("unknown embedder backend %q", c.Embedder.Backend)
	}
	if c.Renderer.Concurrency < 1 {
		return fmt.Errorf("renderer concurrency must be at least 1")
	}
	if c.Renderer.Timeout <= 0 {
		return fmt.Errorf("renderer timeout must be positive")
	}
	return nil
}

// GeneratorAPIKey reads the generator API key from the environment.
func (c *Config) GeneratorAPIKey() (string, error) {
	return keyFromEnv(c.Generator.APIKeyEnv)
}

// EmbedderAPIKey reads the embedder API key from the environment, falling
// back to the generator's variable when none is configured.
func (c *Config) EmbedderAPIKey() (string, error) {
	env := c.Embedder.APIKeyEnv
	if env == "" {
		env = c.Generator.APIKeyEnv
	}
	return keyFromEnv(env)
}

// RendererAPIKey reads the renderer API key from the environment, falling
// back to the generator's variable when none is configured.
func (c *Config) RendererAPIKey() (string, error) {
	env := c.Renderer.APIKeyEnv
	if env == "" {
		env = c.Generator.APIKeyEnv
	}
	return keyFromEnv(env)
}

// ListenAddr returns the host:port pair for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func keyFromEnv(env string) (string, error) {
	if env == "" {
		return "", fmt.Errorf("no API key environment variable configured")
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", env)
	}
	return key, nil
}
