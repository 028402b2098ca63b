package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/butterflyhq/butterfly/internal/llm/provider/anthropic"
	"github.com/butterflyhq/butterfly/internal/llm/provider/gemini"
	"github.com/butterflyhq/butterfly/internal/llm/provider/openai"
	"github.com/butterflyhq/butterfly/internal/llm/types"
	"github.com/butterflyhq/butterfly/internal/metrics"
)

// ProviderType identifies which LLM provider is configured
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderGemini    ProviderType = "gemini"
	ProviderOllama    ProviderType = "ollama"
	ProviderCustom    ProviderType = "custom"
	ProviderNone      ProviderType = "none" // No LLM configured
)

// ErrProviderNotConfigured is returned when an LLM operation is attempted without a configured provider
var ErrProviderNotConfigured = errors.New("LLM provider not configured")

// Config holds LLM provider configuration
type Config struct {
	Provider       ProviderType  `json:"provider"`
	APIKey         string        `json:"api_key"`
	BaseURL        string        `json:"base_url"` // For Ollama/Custom, optional otherwise
	Model          string        `json:"model"`
	Timeout        time.Duration `json:"timeout"`
	MaxRetries     int           `json:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`
}

const defaultRetryBaseDelay = 500 * time.Millisecond

// llmAdapterImpl is the unified adapter implementation
type llmAdapterImpl struct {
	provider   ProviderType
	model      string
	client     Client
	maxRetries int
	baseDelay  time.Duration
}

// NewLLMAdapter creates adapter based on configuration. Missing credentials
// yield an unconfigured adapter rather than an error so the service can start
// in degraded mode.
func NewLLMAdapter(ctx context.Context, cfg *Config) (LLMAdapter, error) {
	if cfg == nil || cfg.Provider == "" || cfg.Provider == ProviderNone {
		return unconfigured(), nil
	}

	var (
		client Client
		model  string
	)

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return unconfigured(), nil
		}
		c, err := openai.NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		client, model = c, c.Model()

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return unconfigured(), nil
		}
		c, err := anthropic.NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		client, model = c, c.Model()

	case ProviderGemini:
		if cfg.APIKey == "" {
			return unconfigured(), nil
		}
		c, err := gemini.NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		client, model = c, c.Model()

	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = openai.OllamaBaseURL
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		c, err := openai.NewOpenAIClient(apiKey, cfg.Model, baseURL, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		client, model = c, c.Model()

	case ProviderCustom:
		if cfg.BaseURL == "" {
			return unconfigured(), nil
		}
		c, err := openai.NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create Custom client: %w", err)
		}
		client, model = c, c.Model()

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	return New(cfg.Provider, model, client, cfg.MaxRetries, cfg.RetryBaseDelay), nil
}

// New wraps an existing provider client with metrics and retries.
func New(provider ProviderType, model string, client Client, maxRetries int, baseDelay time.Duration) LLMAdapter {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = defaultRetryBaseDelay
	}
	return &llmAdapterImpl{
		provider:   provider,
		model:      model,
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

func unconfigured() *llmAdapterImpl {
	return &llmAdapterImpl{provider: ProviderNone}
}

func (a *llmAdapterImpl) Provider() ProviderType { return a.provider }
func (a *llmAdapterImpl) Model() string          { return a.model }
func (a *llmAdapterImpl) Configured() bool       { return a.client != nil }

// Complete delegates to the provider client, retrying transport failures.
func (a *llmAdapterImpl) Complete(ctx context.Context, messages []types.Message, opts types.CompletionOptions) (*types.CompletionResponse, error) {
	if a.client == nil {
		return nil, ErrProviderNotConfigured
	}

	start := time.Now()
	defer func() {
		metrics.LLMRequestDuration.WithLabelValues(string(a.provider), a.model).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.LLMRetries.WithLabelValues(string(a.provider)).Inc()
			if err := sleepCtx(ctx, a.baseDelay*time.Duration(1<<(attempt-1))); err != nil {
				lastErr = err
				break
			}
		}

		resp, err := a.client.Complete(ctx, messages, opts)
		if err == nil {
			metrics.LLMRequestsTotal.WithLabelValues(string(a.provider), a.model, "success").Inc()
			metrics.LLMTokensUsed.WithLabelValues(string(a.provider), a.model, "input").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(string(a.provider), a.model, "output").Add(float64(resp.Usage.CompletionTokens))
			return resp, nil
		}
		lastErr = err

		if types.IsPermanent(err) || ctx.Err() != nil {
			break
		}
	}

	metrics.LLMRequestsTotal.WithLabelValues(string(a.provider), a.model, "error").Inc()
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
