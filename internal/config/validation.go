package config

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

var (
	validLLMProviders    = []string{"openai", "anthropic", "gemini", "ollama", "custom", "none"}
	validSearchProviders = []string{"tavily", "none"}
)

// Validate validates the configuration and returns validation errors.
// Missing credentials are not errors: the service starts degraded.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		add("server.request_timeout_seconds", "must be positive, got %d", c.Server.RequestTimeoutSeconds)
	}
	for _, o := range c.Server.AllowedOrigins {
		if o == "*" {
			continue
		}
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" {
			add("server.allowed_origins", "invalid origin %q (expected scheme://host[:port] or *)", o)
		}
	}

	// LLM
	if !contains(validLLMProviders, c.LLM.Provider) {
		add("llm.provider", "unsupported provider %q (valid: %s)", c.LLM.Provider, strings.Join(validLLMProviders, ", "))
	}
	if c.LLM.Provider == "custom" && c.LLM.BaseURL == "" {
		add("llm.base_url", "base_url is required for the custom provider")
	}
	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("llm.base_url", "invalid URL %q", c.LLM.BaseURL)
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2, got %g", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens", "must not be negative, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.TimeoutSeconds <= 0 {
		add("llm.timeout_seconds", "must be positive, got %d", c.LLM.TimeoutSeconds)
	}
	if c.LLM.MaxRetries < 0 || c.LLM.MaxRetries > 10 {
		add("llm.max_retries", "must be between 0 and 10, got %d", c.LLM.MaxRetries)
	}

	// Search
	if !contains(validSearchProviders, c.Search.Provider) {
		add("search.provider", "unsupported provider %q (valid: %s)", c.Search.Provider, strings.Join(validSearchProviders, ", "))
	}
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 20 {
		add("search.max_results", "must be between 1 and 20, got %d", c.Search.MaxResults)
	}
	if c.Search.TimeoutSeconds <= 0 {
		add("search.timeout_seconds", "must be positive, got %d", c.Search.TimeoutSeconds)
	}
	if c.Search.RequestsPerSecond < 0 {
		add("search.requests_per_second", "must not be negative, got %g", c.Search.RequestsPerSecond)
	}

	// Rate limit
	if c.RateLimit.Requests < 1 {
		add("ratelimit.requests", "must be at least 1, got %d", c.RateLimit.Requests)
	}
	if c.RateLimit.WindowSeconds < 1 {
		add("ratelimit.window_seconds", "must be at least 1, got %d", c.RateLimit.WindowSeconds)
	}

	// Logging
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "invalid level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format", "format must be json or console, got %q", c.Logging.Format)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.LogPath == "" {
		add("audit.log_path", "log_path is required when audit is enabled")
	}

	return errs
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
