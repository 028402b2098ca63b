package causal

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/butterflyhq/butterfly/internal/llm/types"
	"github.com/butterflyhq/butterfly/internal/search"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeLLM struct {
	mu       sync.Mutex
	content  string
	err      error
	panicMsg string
	calls    int
	messages []types.Message
	opts     types.CompletionOptions
}

func (f *fakeLLM) Complete(ctx context.Context, messages []types.Message, opts types.CompletionOptions) (*types.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = messages
	f.opts = opts
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &types.CompletionResponse{Content: f.content}, nil
}

type fakeSearcher struct {
	mu      sync.Mutex
	results []search.Result
	err     error
	panics  bool
	queries []string
}

func (f *fakeSearcher) Name() string { return "fake" }

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.panics {
		panic("malformed result shape")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeSearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func newTestPipeline(llm Completer, s search.Searcher) *Pipeline {
	return NewPipeline(llm, s, WithClock(func() time.Time { return fixedNow }))
}

func strPtr(s string) *string { return &s }

const chainJSON = `{
  "steps": [
    {
      "id": "c1",
      "title": "Central bank raises policy rate",
      "summary": "The bank lifts its benchmark rate by 50bp.",
      "when": "2022-05",
      "mechanism": "Monetary tightening to curb inflation",
      "confidence": "High",
      "evidence_needed": "Should be cleared",
      "sources": [],
      "depends_on": ["c2"]
    },
    {
      "id": "c2",
      "title": "Inflation hits 8 percent",
      "summary": "Consumer prices accelerate.",
      "when": "2022-03",
      "mechanism": "Energy and supply shocks pass through to prices",
      "confidence": "Medium",
      "evidence_needed": "CPI release for March 2022",
      "sources": [],
      "depends_on": ["c3", "c3"]
    },
    {
      "id": "c3",
      "title": "Energy prices spike",
      "summary": "Oil and gas prices jump.",
      "when": "2022-02",
      "mechanism": "Supply disruption",
      "confidence": "Low",
      "evidence_needed": "Brent price series",
      "sources": [{"title": "EIA", "url": "https://eia.example/brent"}],
      "depends_on": []
    }
  ]
}`
