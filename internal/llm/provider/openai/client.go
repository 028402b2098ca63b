package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/butterflyhq/butterfly/internal/llm/types"
)

// Package openai implements the chat-completions provider on top of
// github.com/sashabaranov/go-openai. The same client serves OpenAI itself and
// any OpenAI-compatible endpoint (Ollama, vLLM, LocalAI) through BaseURL.

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 60 * time.Second

	// OllamaBaseURL is the OpenAI-compatible endpoint of a local Ollama daemon.
	OllamaBaseURL = "http://localhost:11434/v1"
)

// OpenAIClientImpl implements the completion client for OpenAI-compatible APIs.
type OpenAIClientImpl struct {
	client  *goopenai.Client
	model   string
	baseURL string
}

// NewOpenAIClient creates a client. An empty baseURL targets api.openai.com.
func NewOpenAIClient(apiKey, model, baseURL string, timeout time.Duration) (*OpenAIClientImpl, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIClientImpl{
		client:  goopenai.NewClientWithConfig(cfg),
		model:   model,
		baseURL: cfg.BaseURL,
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClientImpl) Model() string { return c.model }

// Complete sends a non-streaming chat completion request.
func (c *OpenAIClientImpl) Complete(ctx context.Context, messages []types.Message, opts types.CompletionOptions) (*types.CompletionResponse, error) {
	req := goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    convertMessages(messages),
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONMode {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}

	out := &types.CompletionResponse{
		Model: resp.Model,
		Usage: types.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
	}
	return out, nil
}

func convertMessages(messages []types.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := goopenai.ChatMessageRoleUser
		switch m.Role {
		case types.RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		case types.RoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// classifyError marks non-retryable API responses as permanent.
func classifyError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return types.ClassifyStatus(apiErr.HTTPStatusCode, fmt.Errorf("openai: %w", err))
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return types.ClassifyStatus(reqErr.HTTPStatusCode, fmt.Errorf("openai: %w", err))
	}
	return fmt.Errorf("openai request failed: %w", err)
}
