package causal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/butterflyhq/butterfly/internal/llm/types"
	"github.com/butterflyhq/butterfly/internal/metrics"
)

// generate asks the model for a chain and parses it into StructuredSteps.
// Every failure ends up in st.Err; nothing escapes as a panic.
func (p *Pipeline) generate(ctx context.Context, st *AnalysisState) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("generation stage panicked", zap.Any("panic", r))
			st.StructuredSteps = nil
			st.Err = &GenerationError{Message: "generation failed", Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	if p.llm == nil {
		st.Err = &GenerationError{Message: "LLM call failed", Cause: errors.New("no language model configured")}
		return
	}

	p.logger.Info("generating causal chain",
		zap.String("event", st.Event),
		zap.String("perspective", st.Perspective),
		zap.Int("detail_level", st.DetailLevel),
	)

	resp, err := p.llm.Complete(ctx, buildMessages(st, p.now()), types.CompletionOptions{
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		JSONMode:    true,
	})
	if err != nil {
		p.logger.Error("LLM call failed", zap.Error(err))
		st.Err = &GenerationError{Message: "LLM call failed", Cause: err}
		return
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		p.logger.Error("LLM returned empty response")
		st.Err = &GenerationError{Message: "LLM returned empty response"}
		return
	}

	st.RawModelOutput = resp.Content
	p.logger.Debug("received model output", zap.Int("chars", len(resp.Content)))

	steps, err := parseSteps(resp.Content)
	if err != nil {
		p.logger.Error("failed to parse model output", zap.Error(err))
		st.Err = err
		return
	}

	st.StructuredSteps = steps
	metrics.StepsGenerated.Observe(float64(len(steps)))
	p.logger.Info("parsed structured steps", zap.Int("count", len(steps)))
}
