// Package config loads and validates distill.yml.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a field is omitted.
const (
	DefaultInstance       = "default"
	DefaultRedisURL       = "redis://localhost:6379"
	DefaultStorePath      = "distill.db"
	DefaultPollIntervalMs = 25
	DefaultDrainTimeoutMs = 30000
	DefaultRecentLimit    = 25
	DefaultAPIKeyEnv      = "OPENAI_API_KEY"
)

// Config represents the top-level distill.yml configuration.
type Config struct {
	Instance       string `yaml:"instance,omitempty"`
	RedisURL       string `yaml:"redis_url,omitempty"`
	StorePath      string `yaml:"store_path,omitempty"`
	PollIntervalMs int    `yaml:"poll_interval_ms,omitempty"`
	DrainTimeoutMs int    `yaml:"drain_timeout_ms,omitempty"`
	RecentLimit    int    `yaml:"recent_limit,omitempty"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// LLMConfig configures the chat models used for extraction and conflict
// arbitration.
type LLMConfig struct {
	BaseURL       string `yaml:"base_url,omitempty"`    // empty = provider default endpoint
	APIKeyEnv     string `yaml:"api_key_env,omitempty"` // env var holding the API key
	ExtractModel  string `yaml:"extract_model"`
	ConflictModel string `yaml:"conflict_model,omitempty"` // defaults to extract_model
}

// EmbeddingConfig configures the embedding provider used for similarity
// scoring. Provider "none" disables embeddings: every candidate then scores
// 0 against every record and validation treats everything as new.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "openai", "ollama", or "none"
	Model    string `yaml:"model,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// APIKey resolves the LLM API key from the configured environment variable.
func (l *LLMConfig) APIKey() string {
	return os.Getenv(l.APIKeyEnv)
}

// PollInterval returns the worker idle wait as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// DrainTimeout returns the finalize drain budget as a duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMs) * time.Millisecond
}

// Validate performs strict validation on the configuration and applies
// defaults for omitted fields.
func (c *Config) Validate() error {
	if c.Instance == "" {
		c.Instance = DefaultInstance
	}
	if c.RedisURL == "" {
		c.RedisURL = DefaultRedisURL
	}
	if c.StorePath == "" {
		c.StorePath = DefaultStorePath
	}

	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.PollIntervalMs < 0 {
		return fmt.Errorf("poll_interval_ms must be > 0, got %d", c.PollIntervalMs)
	}

	if c.DrainTimeoutMs == 0 {
		c.DrainTimeoutMs = DefaultDrainTimeoutMs
	}
	if c.DrainTimeoutMs < 0 {
		return fmt.Errorf("drain_timeout_ms must be > 0, got %d", c.DrainTimeoutMs)
	}

	if c.RecentLimit == 0 {
		c.RecentLimit = DefaultRecentLimit
	}
	if c.RecentLimit < 0 {
		return fmt.Errorf("recent_limit must be > 0, got %d", c.RecentLimit)
	}

	if err := c.LLM.Validate(); err != nil {
		return err
	}
	return c.Embedding.Validate()
}

// Validate checks the LLM section and applies defaults.
func (l *LLMConfig) Validate() error {
	if l.ExtractModel == "" {
		return fmt.Errorf("llm.extract_model is required")
	}
	if l.ConflictModel == "" {
		l.ConflictModel = l.ExtractModel
	}
	if l.APIKeyEnv == "" {
		l.APIKeyEnv = DefaultAPIKeyEnv
	}
	return nil
}

// Validate checks the embedding section.
func (e *EmbeddingConfig) Validate() error {
	switch e.Provider {
	case "openai", "ollama":
		if e.Model == "" {
			return fmt.Errorf("embedding.model is required for provider '%s'", e.Provider)
		}
	case "none", "":
		e.Provider = "none"
	default:
		return fmt.Errorf("invalid embedding provider: %s (must be 'openai', 'ollama', or 'none')", e.Provider)
	}
	return nil
}

// Load reads and validates distill.yml from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
