// Package causal turns a present-day event into a reverse-chronological
// chain of causes: a model call produces the chain, then steps the model is
// unsure about are backed with web-search sources.
package causal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/butterflyhq/butterfly/internal/llm/types"
	"github.com/butterflyhq/butterfly/internal/metrics"
	"github.com/butterflyhq/butterfly/internal/search"
)

// Completer is the language-model dependency of the pipeline.
type Completer interface {
	Complete(ctx context.Context, messages []types.Message, opts types.CompletionOptions) (*types.CompletionResponse, error)
}

// Stage names a pipeline state.
type Stage string

const (
	StageGenerate Stage = "generate"
	StageVerify   Stage = "verify"
	StageEnd      Stage = "end"
)

// ProgressEvent is reported to an Observer as a run advances.
type ProgressEvent struct {
	Stage Stage
	Step  *CausalStep // set for each verified step
}

// Observer receives progress events. It is called synchronously from the run.
type Observer func(ProgressEvent)

func (o Observer) emit(ev ProgressEvent) {
	if o != nil {
		o(ev)
	}
}

const DefaultTemperature = 0.3

// Pipeline runs causal analyses. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	llm         Completer
	searcher    search.Searcher
	logger      *zap.Logger
	now         func() time.Time
	temperature float64
	maxTokens   int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the time source used for prompts and timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithTemperature sets the sampling temperature of the model call.
func WithTemperature(t float64) Option {
	return func(p *Pipeline) { p.temperature = t }
}

// WithMaxTokens caps the completion length. 0 leaves the provider default.
func WithMaxTokens(n int) Option {
	return func(p *Pipeline) { p.maxTokens = n }
}

// NewPipeline creates a pipeline. searcher may be nil, in which case no
// evidence search is attempted.
func NewPipeline(llm Completer, searcher search.Searcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		llm:         llm,
		searcher:    searcher,
		logger:      zap.NewNop(),
		now:         time.Now,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Analyze validates the input and runs the pipeline.
func (p *Pipeline) Analyze(ctx context.Context, event, perspective string, detailLevel int) (*AnalysisResponse, error) {
	return p.AnalyzeWithProgress(ctx, event, perspective, detailLevel, nil)
}

// AnalyzeWithProgress is Analyze with a progress observer.
func (p *Pipeline) AnalyzeWithProgress(ctx context.Context, event, perspective string, detailLevel int, obs Observer) (*AnalysisResponse, error) {
	req, err := NewAnalysisRequest(event, perspective, detailLevel)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues(Outcome(err)).Inc()
		return nil, err
	}
	return p.Run(ctx, req, obs)
}

// Run executes GENERATE, then VERIFY unless generation failed, then assembles
// the response. A cancelled ctx aborts the run without a partial result.
func (p *Pipeline) Run(ctx context.Context, req AnalysisRequest, obs Observer) (resp *AnalysisResponse, err error) {
	start := time.Now()
	defer func() {
		metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
		metrics.AnalysesTotal.WithLabelValues(Outcome(err)).Inc()
	}()

	st := newState(req)
	for stage := StageGenerate; stage != StageEnd; {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("analysis aborted: %w", err)
		}
		obs.emit(ProgressEvent{Stage: stage})

		switch stage {
		case StageGenerate:
			p.generate(ctx, st)
			stage = nextAfterGenerate(st)
		case StageVerify:
			p.verify(ctx, st, obs)
			stage = StageEnd
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis aborted: %w", err)
	}
	obs.emit(ProgressEvent{Stage: StageEnd})

	resp, err = assemble(req, st, p.now())
	if err != nil {
		p.logger.Error("analysis failed", zap.Error(err))
		return nil, err
	}
	p.logger.Info("analysis complete",
		zap.Int("steps", len(resp.Steps)),
		zap.Int("dropped", st.Dropped),
		zap.Int("search_failures", st.SearchFailures),
	)
	return resp, nil
}

// nextAfterGenerate routes on the only thing that matters: did generation fail.
func nextAfterGenerate(st *AnalysisState) Stage {
	if st.Err != nil {
		return StageEnd
	}
	return StageVerify
}
