package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/butterflyhq/butterfly/internal/audit"
	"github.com/butterflyhq/butterfly/internal/causal"
	"github.com/butterflyhq/butterfly/internal/config"
	"github.com/butterflyhq/butterfly/internal/llm/adapter"
	"github.com/butterflyhq/butterfly/internal/llm/types"
	"github.com/butterflyhq/butterfly/internal/search"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

const chainJSON = `{
  "steps": [
    {"id": "c1", "title": "Rate hike announced", "summary": "The central bank raised its policy rate.",
     "when": "2023-07", "mechanism": "Policy response to inflation", "confidence": "High",
     "sources": [], "depends_on": ["c2"]},
    {"id": "c2", "title": "Inflation surge", "summary": "Consumer prices rose sharply.",
     "when": "2022", "mechanism": "Supply shocks raised costs", "confidence": "Medium",
     "evidence_needed": "CPI data for 2022", "sources": [], "depends_on": []}
  ]
}`

// stubLLM is a configurable LLM adapter.
type stubLLM struct {
	content    string
	err        error
	configured bool
}

func (s *stubLLM) Complete(ctx context.Context, _ []types.Message, _ types.CompletionOptions) (*types.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &types.CompletionResponse{Content: s.content, Model: "stub-model"}, nil
}

func (s *stubLLM) Provider() adapter.ProviderType { return adapter.ProviderOpenAI }
func (s *stubLLM) Model() string                  { return "stub-model" }
func (s *stubLLM) Configured() bool               { return s.configured }

// stubSearcher returns one fixed result.
type stubSearcher struct{}

func (stubSearcher) Name() string { return "stub" }

func (stubSearcher) Search(context.Context, string) ([]search.Result, error) {
	return []search.Result{{Title: "CPI report 2022", URL: "https://stats.example.gov/cpi-2022"}}, nil
}

// blockingAnalyzer waits for ctx to end.
type blockingAnalyzer struct{}

func (blockingAnalyzer) AnalyzeWithProgress(ctx context.Context, _, _ string, _ int, _ causal.Observer) (*causal.AnalysisResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// recordingAudit captures audit calls.
type recordingAudit struct {
	audit.NopLogger
	mu     sync.Mutex
	events []string
}

func (r *recordingAudit) record(name string) {
	r.mu.Lock()
	r.events = append(r.events, name)
	r.mu.Unlock()
}

func (r *recordingAudit) LogAnalysisRequested(context.Context, string, string) error {
	r.record("requested")
	return nil
}

func (r *recordingAudit) LogAnalysisCompleted(context.Context, string, audit.AnalysisSummary, time.Duration) error {
	r.record("completed")
	return nil
}

func (r *recordingAudit) LogAnalysisFailed(_ context.Context, _ string, outcome string, _ error, _ time.Duration) error {
	r.record("failed:" + outcome)
	return nil
}

func (r *recordingAudit) LogRateLimited(context.Context, string, string) error {
	r.record("rate_limited")
	return nil
}

func (r *recordingAudit) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.RequestTimeoutSeconds = 5
	cfg.Search.Provider = "none"
	return cfg
}

// newTestServer builds a server around a real pipeline backed by llm.
func newTestServer(t *testing.T, llm *stubLLM, opts ...Option) (*Server, *recordingAudit) {
	t.Helper()
	rec := &recordingAudit{}
	pipeline := causal.NewPipeline(llm, stubSearcher{}, causal.WithClock(func() time.Time { return fixedNow }))

	base := []Option{
		WithLLM(llm),
		WithSearcher(stubSearcher{}),
		WithAnalyzer(pipeline),
		WithAuditLogger(rec),
		WithClock(func() time.Time { return fixedNow }),
	}
	srv, err := NewServer(testConfig(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv, rec
}
