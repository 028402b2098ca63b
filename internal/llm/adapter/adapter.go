package adapter

import (
	"context"

	"github.com/butterflyhq/butterfly/internal/llm/types"
)

// Package adapter provides a unified interface over the supported LLM providers.
//
// Supported Providers:
//  1. OpenAI: gpt-4o-mini (default), gpt-4o
//  2. Anthropic: claude-3-5-haiku, claude-3-5-sonnet
//  3. Gemini: gemini-2.0-flash
//  4. Ollama: local models through its OpenAI-compatible endpoint
//  5. Custom: any OpenAI-compatible endpoint (vLLM, LocalAI, LM Studio)
//
// Fallback Behavior (No LLM Configured):
//   - The adapter is still constructed so the service can start
//   - Complete returns ErrProviderNotConfigured, surfaced as HTTP 503
//
// Retries:
//   - Only calls that produced no content are retried
//   - PermanentError (4xx other than 429) stops retrying immediately
//   - Backoff doubles from the configured base delay and honours ctx

// LLMAdapter defines the unified interface for LLM providers.
type LLMAdapter interface {
	// Complete sends the conversation and returns a single completion.
	Complete(ctx context.Context, messages []types.Message, opts types.CompletionOptions) (*types.CompletionResponse, error)

	// Provider returns the active provider (ProviderNone when unconfigured).
	Provider() ProviderType

	// Model returns the model name used for requests.
	Model() string

	// Configured reports whether a provider client is available.
	Configured() bool
}

// Client is the contract each provider package implements.
type Client interface {
	Complete(ctx context.Context, messages []types.Message, opts types.CompletionOptions) (*types.CompletionResponse, error)
}
