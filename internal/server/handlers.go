package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/butterflyhq/butterfly/internal/api"
	"github.com/butterflyhq/butterfly/internal/audit"
	"github.com/butterflyhq/butterfly/internal/causal"
	"github.com/butterflyhq/butterfly/internal/middleware"
	"github.com/butterflyhq/butterfly/pkg/types"
)

// routes registers HTTP handlers and wraps the mux with the shared
// middleware. CORS sits outside the mux so preflight requests never reach
// method checks.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	limited := func(path string, h http.HandlerFunc) {
		mux.Handle(path, middleware.Chain(h, middleware.Observe(path, s.logger), s.limiter.Middleware))
	}
	open := func(path string, h http.Handler) {
		mux.Handle(path, middleware.Chain(h, middleware.Observe(path, s.logger)))
	}

	// Analysis
	limited("/api/generate", s.handleAnalyze)
	limited("/api/v1/analyze", s.handleAnalyze)

	// Health and introspection
	open("/health", http.HandlerFunc(s.handleHealth))
	open("/ready", http.HandlerFunc(s.handleReady))
	open("/info", http.HandlerFunc(s.handleInfo))
	open("/metrics", promhttp.Handler())
	open("/api/v1/audit", http.HandlerFunc(s.handleAuditQuery))

	// Each analysis message is rate limited; the upgrade itself is not.
	open("/ws/analyze", http.HandlerFunc(s.handleWebSocket))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "Not found"})
	})

	return middleware.Chain(mux, middleware.RequestID, s.cors.Middleware)
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	api.WriteJSON(w, http.StatusMethodNotAllowed, types.ErrorResponse{Error: "Method not allowed"})
}

// handleAnalyze runs one analysis for a JSON request body.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteJSON(w, http.StatusRequestEntityTooLarge, types.ErrorResponse{Error: "Request body too large"})
			return
		}
		api.WriteError(w, types.ErrInvalidPayload)
		return
	}

	req, err := types.ParseAnalyzeRequest(body)
	if err != nil {
		s.logger.Warn("rejected analysis request", zap.Error(err))
		api.WriteError(w, err)
		return
	}

	resp, err := s.analyze(r.Context(), req, middleware.ClientKey(r), nil)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// analyze runs the pipeline under the request timeout and records the
// outcome in the audit log.
func (s *Server) analyze(ctx context.Context, req types.AnalyzeRequest, client string, obs causal.Observer) (*causal.AnalysisResponse, error) {
	requestID := audit.GetCorrelationID(ctx)
	logger := s.logger.With(zap.String("request_id", requestID), zap.String("client", client))

	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout())
	defer cancel()

	logger.Info("analysis requested",
		zap.String("event", req.Event),
		zap.String("perspective", req.Perspective),
		zap.Int("detail_level", req.DetailLevel),
	)
	_ = s.audit.LogAnalysisRequested(ctx, requestID, req.Event)

	start := time.Now()
	resp, err := s.analyzer.AnalyzeWithProgress(ctx, req.Event, req.Perspective, req.DetailLevel, obs)
	elapsed := time.Since(start)

	if err != nil {
		outcome := causal.Outcome(err)
		logger.Error("analysis failed", zap.String("outcome", outcome), zap.Duration("duration", elapsed), zap.Error(err))
		_ = s.audit.LogAnalysisFailed(ctx, requestID, outcome, err, elapsed)
		return nil, err
	}

	summary := audit.AnalysisSummary{
		Steps:          len(resp.Steps),
		StepsReceived:  resp.Diagnostics.StepsReceived,
		StepsDropped:   resp.Diagnostics.StepsDropped,
		SearchFailures: resp.Diagnostics.SearchFailures,
	}
	logger.Info("analysis completed",
		zap.Int("steps", summary.Steps),
		zap.Int("steps_dropped", summary.StepsDropped),
		zap.Int("search_failures", summary.SearchFailures),
		zap.Duration("duration", elapsed),
	)
	_ = s.audit.LogAnalysisCompleted(ctx, requestID, summary, elapsed)
	return resp, nil
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	api.WriteJSON(w, http.StatusOK, types.NewHealthResponse(s.now()))
}

// handleReady reports ready only when a model provider is configured and
// the audit store, if any, answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	provider, _ := s.providerInfo()
	resp := types.ReadyResponse{Status: "ready", Provider: provider, Search: s.searcher.Name()}
	storeOK := true
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), storePingTimeout)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("audit store ping failed", zap.Error(err))
			resp.Store = "unavailable"
			storeOK = false
		} else {
			resp.Store = "ok"
		}
	}
	if !s.llmReady() || !storeOK {
		resp.Status = "not_ready"
		api.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	provider, model := s.providerInfo()
	api.WriteJSON(w, http.StatusOK, types.InfoResponse{
		Service:  serviceName,
		Version:  Version,
		Provider: provider,
		Model:    model,
		Search:   s.searcher.Name(),
	})
}
