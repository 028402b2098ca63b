package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (BUTTERFLY_LLM_PROVIDER, ...).
const EnvPrefix = "BUTTERFLY"

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	mu         sync.RWMutex
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
	watchOnce  sync.Once
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	v := viper.New()

	if m.configPath != "" {
		v.SetConfigFile(m.configPath)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if m.configPath != "" {
		if err := readConfigFile(v); err != nil {
			return err
		}
	}

	cfg := unmarshalConfig(v)
	applyEnvOverrides(cfg)

	m.mu.Lock()
	m.viper = v
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// readConfigFile reads the YAML file; a missing file is not an error.
func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	return joinValidation(m.Get(ctx).Validate())
}

func joinValidation(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var errMsgs []string
	for _, err := range errs {
		errMsgs = append(errMsgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
}

// Watch watches the config file for changes. Reloaded configurations that
// fail validation are not delivered. Load must be called first.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.watchOnce.Do(func() {
		m.mu.RLock()
		v := m.viper
		m.mu.RUnlock()
		if v == nil || m.configPath == "" {
			return
		}

		v.OnConfigChange(func(e fsnotify.Event) {
			if ctx.Err() != nil {
				return
			}
			cfg := unmarshalConfig(v)
			applyEnvOverrides(cfg)
			if len(cfg.Validate()) > 0 {
				return
			}
			m.mu.Lock()
			m.config = cfg
			m.mu.Unlock()

			select {
			case m.watchChan <- *cfg:
			default:
				// Channel full, skip this update
			}
		})
		v.WatchConfig()
	})
	return m.watchChan
}

// Reload re-reads configuration from all sources. A configuration that
// fails validation is rejected and the current one is kept.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	m.mu.RLock()
	v := m.viper
	m.mu.RUnlock()
	if v == nil {
		return m.Load(ctx)
	}

	if m.configPath != "" {
		if err := readConfigFile(v); err != nil {
			return err
		}
	}

	cfg := unmarshalConfig(v)
	applyEnvOverrides(cfg)
	if err := joinValidation(cfg.Validate()); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// setDefaults sets default values in viper. Every key is registered so
// AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Server defaults
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	v.SetDefault("server.request_timeout_seconds", defaults.Server.RequestTimeoutSeconds)

	// LLM defaults
	v.SetDefault("llm.provider", defaults.LLM.Provider)
	v.SetDefault("llm.api_key", defaults.LLM.APIKey)
	v.SetDefault("llm.model", defaults.LLM.Model)
	v.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	v.SetDefault("llm.temperature", defaults.LLM.Temperature)
	v.SetDefault("llm.max_tokens", defaults.LLM.MaxTokens)
	v.SetDefault("llm.timeout_seconds", defaults.LLM.TimeoutSeconds)
	v.SetDefault("llm.max_retries", defaults.LLM.MaxRetries)

	// Search defaults
	v.SetDefault("search.provider", defaults.Search.Provider)
	v.SetDefault("search.api_key", defaults.Search.APIKey)
	v.SetDefault("search.base_url", defaults.Search.BaseURL)
	v.SetDefault("search.max_results", defaults.Search.MaxResults)
	v.SetDefault("search.timeout_seconds", defaults.Search.TimeoutSeconds)
	v.SetDefault("search.requests_per_second", defaults.Search.RequestsPerSecond)

	// Rate limit defaults
	v.SetDefault("ratelimit.requests", defaults.RateLimit.Requests)
	v.SetDefault("ratelimit.window_seconds", defaults.RateLimit.WindowSeconds)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.file", defaults.Logging.File)

	// Audit defaults
	v.SetDefault("audit.enabled", defaults.Audit.Enabled)
	v.SetDefault("audit.log_path", defaults.Audit.LogPath)

	// Database defaults
	v.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)
}

// unmarshalConfig reads viper values into a Config struct.
func unmarshalConfig(v *viper.Viper) *Config {
	cfg := &Config{}

	// Server
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.AllowedOrigins = splitList(v.GetStringSlice("server.allowed_origins"))
	cfg.Server.RequestTimeoutSeconds = v.GetInt("server.request_timeout_seconds")

	// LLM
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(v.GetString("llm.provider")))
	cfg.LLM.APIKey = v.GetString("llm.api_key")
	cfg.LLM.Model = v.GetString("llm.model")
	cfg.LLM.BaseURL = v.GetString("llm.base_url")
	cfg.LLM.Temperature = v.GetFloat64("llm.temperature")
	cfg.LLM.MaxTokens = v.GetInt("llm.max_tokens")
	cfg.LLM.TimeoutSeconds = v.GetInt("llm.timeout_seconds")
	cfg.LLM.MaxRetries = v.GetInt("llm.max_retries")

	// Search
	cfg.Search.Provider = strings.ToLower(strings.TrimSpace(v.GetString("search.provider")))
	cfg.Search.APIKey = v.GetString("search.api_key")
	cfg.Search.BaseURL = v.GetString("search.base_url")
	cfg.Search.MaxResults = v.GetInt("search.max_results")
	cfg.Search.TimeoutSeconds = v.GetInt("search.timeout_seconds")
	cfg.Search.RequestsPerSecond = v.GetFloat64("search.requests_per_second")

	// Rate limit
	cfg.RateLimit.Requests = v.GetInt("ratelimit.requests")
	cfg.RateLimit.WindowSeconds = v.GetInt("ratelimit.window_seconds")

	// Logging
	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.File = v.GetString("logging.file")

	// Audit
	cfg.Audit.Enabled = v.GetBool("audit.enabled")
	cfg.Audit.LogPath = v.GetString("audit.log_path")

	// Database
	cfg.Database.SQLitePath = v.GetString("database.sqlite_path")

	return cfg
}

// providerKeyEnv maps an LLM provider to its conventional credential variable.
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"custom":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// applyEnvOverrides applies environment variable overrides for sensitive data.
func applyEnvOverrides(cfg *Config) {
	if name, ok := providerKeyEnv[cfg.LLM.Provider]; ok {
		if apiKey := os.Getenv(name); apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
	}

	if model := os.Getenv("MODEL_NAME"); model != "" {
		cfg.LLM.Model = model
	}

	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && cfg.LLM.Provider == "ollama" {
		cfg.LLM.BaseURL = baseURL
	}

	if apiKey := os.Getenv("TAVILY_API_KEY"); apiKey != "" {
		cfg.Search.APIKey = apiKey
	}
}

// splitList flattens comma separated entries, which is how list values
// arrive from environment variables.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
