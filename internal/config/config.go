package config

import "context"

// Package config provides configuration management for butterfly.
//
// Configuration Sources (priority order, high to low):
//  1. Provider credential variables (OPENAI_API_KEY, TAVILY_API_KEY, ...)
//  2. Environment variables (BUTTERFLY_* prefix, "." replaced by "_")
//  3. YAML config file (optional)
//  4. Built-in defaults
//
// Sections: server, llm, search, ratelimit, logging, audit, database.

// Config is the full service configuration.
type Config struct {
	Server struct {
		Host string
		Port int
		// AllowedOrigins lists CORS and WebSocket origins. ["*"] allows any.
		AllowedOrigins        []string
		RequestTimeoutSeconds int
	}

	LLM struct {
		Provider       string // openai | anthropic | gemini | ollama | custom | none
		APIKey         string
		Model          string
		BaseURL        string
		Temperature    float64
		MaxTokens      int
		TimeoutSeconds int
		MaxRetries     int
	}

	Search struct {
		Provider          string // tavily | none
		APIKey            string
		BaseURL           string
		MaxResults        int
		TimeoutSeconds    int
		RequestsPerSecond float64
	}

	RateLimit struct {
		Requests      int
		WindowSeconds int
	}

	Logging struct {
		Level  string
		Format string // json | console
		File   string // empty = stderr
	}

	Audit struct {
		Enabled bool
		LogPath string
	}

	Database struct {
		SQLitePath string // empty disables the audit store
	}
}

// ConfigManager loads, validates and watches configuration.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and delivers reloaded configurations.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a manager for the YAML file at configPath. The
// file is optional.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a manager for ./butterfly.yaml.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("butterfly.yaml")
}
