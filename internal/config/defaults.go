package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.RequestTimeoutSeconds = 120

	// LLM defaults
	cfg.LLM.Provider = "openai"
	cfg.LLM.Model = "" // provider default (gpt-4o-mini for openai)
	cfg.LLM.Temperature = 0.3
	cfg.LLM.MaxTokens = 0
	cfg.LLM.TimeoutSeconds = 60
	cfg.LLM.MaxRetries = 2

	// Search defaults
	cfg.Search.Provider = "tavily"
	cfg.Search.MaxResults = 3
	cfg.Search.TimeoutSeconds = 15
	cfg.Search.RequestsPerSecond = 0

	// Rate limit defaults
	cfg.RateLimit.Requests = 10
	cfg.RateLimit.WindowSeconds = 60

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	// Audit defaults
	cfg.Audit.Enabled = false
	cfg.Audit.LogPath = "logs/audit.log"

	return cfg
}
