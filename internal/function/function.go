// Package function is the serverless entry point. A platform runtime hands
// over the raw request body, or a payload string when the body is absent,
// and gets back a status code and a JSON body.
package function

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/butterflyhq/butterfly/internal/api"
	"github.com/butterflyhq/butterfly/internal/causal"
	"github.com/butterflyhq/butterfly/pkg/types"
)

// Analyzer runs one causal analysis.
type Analyzer interface {
	AnalyzeWithProgress(ctx context.Context, event, perspective string, detailLevel int, obs causal.Observer) (*causal.AnalysisResponse, error)
}

// Request is one function invocation.
type Request struct {
	Body    []byte
	Payload string
}

// Response is what the runtime writes back.
type Response struct {
	StatusCode int
	Body       []byte
}

// Handler adapts an Analyzer to the function calling convention.
type Handler struct {
	analyzer Analyzer
	logger   *zap.Logger
	timeout  time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithTimeout bounds each invocation. Zero leaves only the caller's deadline.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// NewHandler creates a Handler.
func NewHandler(analyzer Analyzer, opts ...Option) *Handler {
	h := &Handler{analyzer: analyzer, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle parses the payload, runs the analysis and maps the outcome to a
// status code the same way the HTTP service does.
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	body := req.Body
	source := "body"
	if len(body) == 0 {
		body = []byte(req.Payload)
		source = "payload"
	}

	in, err := types.ParseAnalyzeRequest(body)
	if err != nil {
		h.logger.Warn("rejected invocation", zap.String("source", source), zap.Error(err))
		return errorResponse(err)
	}
	h.logger.Info("function invoked",
		zap.String("source", source),
		zap.String("event", in.Event),
		zap.String("perspective", in.Perspective),
		zap.Int("detail_level", in.DetailLevel),
	)

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := h.analyzer.AnalyzeWithProgress(ctx, in.Event, in.Perspective, in.DetailLevel, nil)
	if err != nil {
		h.logger.Error("analysis failed",
			zap.String("outcome", causal.Outcome(err)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return errorResponse(err)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return errorResponse(err)
	}
	h.logger.Info("analysis completed",
		zap.Int("steps", len(resp.Steps)),
		zap.Int("bytes", len(out)),
		zap.Duration("duration", time.Since(start)),
	)
	return Response{StatusCode: 200, Body: out}
}

func errorResponse(err error) Response {
	status, body := api.ErrorBody(err)
	return Response{StatusCode: status, Body: body}
}
