// Package search defines the web-search contract used to attach evidence to
// causal steps, plus the instrumentation shared by every provider.
package search

import (
	"context"
	"errors"
	"time"

	"github.com/butterflyhq/butterfly/internal/metrics"
)

// ErrSearchNotConfigured is returned by the disabled searcher.
var ErrSearchNotConfigured = errors.New("search provider not configured")

// Result is one ranked search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Searcher runs a free-text query and returns results in rank order.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
	Name() string
}

// Disabled is the searcher used when no provider is configured.
type Disabled struct{}

func (Disabled) Search(context.Context, string) ([]Result, error) { return nil, ErrSearchNotConfigured }
func (Disabled) Name() string                                     { return "none" }

// Instrument wraps s so every call is counted and timed.
func Instrument(s Searcher) Searcher {
	if s == nil {
		return nil
	}
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{next: s}
}

type instrumented struct {
	next Searcher
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Search(ctx context.Context, query string) ([]Result, error) {
	start := time.Now()
	results, err := i.next.Search(ctx, query)
	metrics.SearchDuration.WithLabelValues(i.next.Name()).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SearchRequestsTotal.WithLabelValues(i.next.Name(), status).Inc()
	return results, err
}
