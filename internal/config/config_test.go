package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearCredentialEnv neutralizes credentials that may exist on the host.
func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
		"TAVILY_API_KEY", "MODEL_NAME", "OLLAMA_BASE_URL",
	} {
		t.Setenv(name, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Empty(t, cfg.LLM.Model)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)
	assert.Equal(t, 60, cfg.LLM.TimeoutSeconds)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)

	assert.Equal(t, "tavily", cfg.Search.Provider)
	assert.Equal(t, 3, cfg.Search.MaxResults)

	assert.Equal(t, 10, cfg.RateLimit.Requests)
	assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Audit.Enabled)
	assert.Empty(t, cfg.Database.SQLitePath)

	assert.Empty(t, cfg.Validate(), "defaults must validate")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantField string
	}{
		{name: "valid defaults", modifyFn: func(c *Config) {}},
		{name: "port zero", modifyFn: func(c *Config) { c.Server.Port = 0 }, wantField: "server.port"},
		{name: "port too large", modifyFn: func(c *Config) { c.Server.Port = 70000 }, wantField: "server.port"},
		{name: "bad origin", modifyFn: func(c *Config) { c.Server.AllowedOrigins = []string{"example.com"} }, wantField: "server.allowed_origins"},
		{name: "explicit origin", modifyFn: func(c *Config) { c.Server.AllowedOrigins = []string{"https://app.example.com"} }},
		{name: "unknown provider", modifyFn: func(c *Config) { c.LLM.Provider = "watson" }, wantField: "llm.provider"},
		{name: "custom without base url", modifyFn: func(c *Config) { c.LLM.Provider = "custom" }, wantField: "llm.base_url"},
		{name: "custom with base url", modifyFn: func(c *Config) {
			c.LLM.Provider = "custom"
			c.LLM.BaseURL = "http://localhost:8080/v1"
		}},
		{name: "temperature out of range", modifyFn: func(c *Config) { c.LLM.Temperature = 3 }, wantField: "llm.temperature"},
		{name: "negative retries", modifyFn: func(c *Config) { c.LLM.MaxRetries = -1 }, wantField: "llm.max_retries"},
		{name: "unknown search provider", modifyFn: func(c *Config) { c.Search.Provider = "bing" }, wantField: "search.provider"},
		{name: "search disabled", modifyFn: func(c *Config) { c.Search.Provider = "none" }},
		{name: "max results zero", modifyFn: func(c *Config) { c.Search.MaxResults = 0 }, wantField: "search.max_results"},
		{name: "rate limit zero", modifyFn: func(c *Config) { c.RateLimit.Requests = 0 }, wantField: "ratelimit.requests"},
		{name: "bad log level", modifyFn: func(c *Config) { c.Logging.Level = "verbose" }, wantField: "logging.level"},
		{name: "bad log format", modifyFn: func(c *Config) { c.Logging.Format = "text" }, wantField: "logging.format"},
		{name: "audit without path", modifyFn: func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.LogPath = ""
		}, wantField: "audit.log_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)
			errs := cfg.Validate()

			if tt.wantField == "" {
				assert.Empty(t, errs, "expected no validation errors but got: %v", errs)
				return
			}
			require.NotEmpty(t, errs)
			found := false
			for _, err := range errs {
				if ve, ok := err.(*ValidationError); ok && ve.Field == tt.wantField {
					found = true
				}
			}
			assert.True(t, found, "expected error for field %s, got %v", tt.wantField, errs)
		})
	}
}

func TestConfigManagerLoad(t *testing.T) {
	clearCredentialEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "butterfly.yaml")

	configContent := `
server:
  port: 9090
  allowed_origins:
    - "https://app.example.com"

llm:
  provider: "anthropic"
  api_key: "file-anthropic-key"
  model: "claude-3-5-sonnet-20241022"
  temperature: 0.5

search:
  provider: "none"

logging:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	require.NoError(t, mgr.Validate(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "file-anthropic-key", cfg.LLM.APIKey)
	assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.LLM.Model)
	assert.Equal(t, 0.5, cfg.LLM.Temperature)
	assert.Equal(t, "none", cfg.Search.Provider)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched keys keep defaults
	assert.Equal(t, 10, cfg.RateLimit.Requests)
	assert.Equal(t, 3, cfg.Search.MaxResults)
}

func TestConfigManagerEnvironmentOverrides(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("BUTTERFLY_SERVER_PORT", "7070")
	t.Setenv("BUTTERFLY_SERVER_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("BUTTERFLY_RATELIMIT_REQUESTS", "25")
	t.Setenv("OPENAI_API_KEY", "env-openai-key")
	t.Setenv("TAVILY_API_KEY", "env-tavily-key")
	t.Setenv("MODEL_NAME", "gpt-4o")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "butterfly.yaml")
	configContent := `
server:
  port: 8081
llm:
  provider: "openai"
  api_key: "file-key"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	cfg := mgr.Get(ctx)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 25, cfg.RateLimit.Requests)
	assert.Equal(t, "env-openai-key", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "env-tavily-key", cfg.Search.APIKey)
}

func TestConfigManagerProviderKeySelection(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("BUTTERFLY_LLM_PROVIDER", "gemini")

	mgr, err := NewConfigManager("")
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-key", cfg.LLM.APIKey)
}

func TestConfigManagerMissingFile(t *testing.T) {
	clearCredentialEnv(t)

	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx), "missing config file should fall back to defaults")

	cfg := mgr.Get(ctx)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Empty(t, cfg.LLM.APIKey)
}

func TestConfigManagerMalformedFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "butterfly.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)
	assert.Error(t, mgr.Load(context.Background()))
}

func TestConfigManagerValidation(t *testing.T) {
	clearCredentialEnv(t)

	configPath := filepath.Join(t.TempDir(), "butterfly.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 0\nllm:\n  provider: \"watson\"\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	err = mgr.Validate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestConfigManagerReload(t *testing.T) {
	clearCredentialEnv(t)

	configPath := filepath.Join(t.TempDir(), "butterfly.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("ratelimit:\n  requests: 5\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	assert.Equal(t, 5, mgr.Get(ctx).RateLimit.Requests)

	require.NoError(t, os.WriteFile(configPath, []byte("ratelimit:\n  requests: 50\n"), 0644))
	require.NoError(t, mgr.Reload(ctx))
	assert.Equal(t, 50, mgr.Get(ctx).RateLimit.Requests)
}

func TestConfigManagerReloadRejectsInvalid(t *testing.T) {
	clearCredentialEnv(t)

	configPath := filepath.Join(t.TempDir(), "butterfly.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("ratelimit:\n  requests: 5\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	require.NoError(t, os.WriteFile(configPath, []byte("ratelimit:\n  requests: 0\n"), 0644))
	err = mgr.Reload(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ratelimit.requests")
	assert.Equal(t, 5, mgr.Get(ctx).RateLimit.Requests)
}

func TestConfigManagerWatch(t *testing.T) {
	clearCredentialEnv(t)

	configPath := filepath.Join(t.TempDir(), "butterfly.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("ratelimit:\n  requests: 5\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Load(ctx))

	updates := mgr.Watch(ctx)

	// Replace the file atomically so the watcher never sees a partial write.
	tmp := configPath + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("ratelimit:\n  requests: 7\n"), 0644))
	require.NoError(t, os.Rename(tmp, configPath))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-updates:
			if cfg.RateLimit.Requests != 7 {
				continue
			}
			assert.Equal(t, 7, mgr.Get(ctx).RateLimit.Requests)
			return
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", "", " c "}))
	assert.Empty(t, splitList(nil))
}
