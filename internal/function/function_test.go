package function

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/butterflyhq/butterfly/internal/causal"
	"github.com/butterflyhq/butterfly/internal/llm/adapter"
)

// fakeAnalyzer records its inputs and returns a canned result.
type fakeAnalyzer struct {
	event       string
	perspective string
	detailLevel int
	resp        *causal.AnalysisResponse
	err         error
	wait        bool
}

func (f *fakeAnalyzer) AnalyzeWithProgress(ctx context.Context, event, perspective string, detailLevel int, _ causal.Observer) (*causal.AnalysisResponse, error) {
	f.event, f.perspective, f.detailLevel = event, perspective, detailLevel
	if f.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func sampleResponse() *causal.AnalysisResponse {
	return &causal.AnalysisResponse{
		Event:       "Central bank raises interest rates",
		GeneratedAt: "2025-03-14T09:30:00Z",
		Perspective: "balanced",
		Steps: []causal.CausalStep{{
			ID: "c1", Title: "Inflation surge", Summary: "Prices rose.", When: "2022",
			Mechanism: "Supply shocks", Confidence: causal.ConfidenceHigh,
			Sources: []causal.Source{}, DependsOn: []string{},
		}},
	}
}

func decodeError(t *testing.T, body []byte) string {
	t.Helper()
	var v struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &v))
	return v.Error
}

func TestHandleSuccess(t *testing.T) {
	fa := &fakeAnalyzer{resp: sampleResponse()}
	h := NewHandler(fa)

	resp := h.Handle(context.Background(), Request{
		Body: []byte(`{"event":"  Central bank raises interest rates ","detailLevel":42}`),
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Central bank raises interest rates", fa.event)
	assert.Equal(t, "balanced", fa.perspective)
	assert.Equal(t, 10, fa.detailLevel)

	var out causal.AnalysisResponse
	require.NoError(t, json.Unmarshal(resp.Body, &out))
	assert.Equal(t, "c1", out.Steps[0].ID)
}

func TestHandlePayloadFallback(t *testing.T) {
	fa := &fakeAnalyzer{resp: sampleResponse()}
	h := NewHandler(fa)

	resp := h.Handle(context.Background(), Request{
		Payload: `{"event":"Central bank raises interest rates","perspective":"economic","detail_level":"3"}`,
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "economic", fa.perspective)
	assert.Equal(t, 3, fa.detailLevel)
}

func TestHandleErrors(t *testing.T) {
	tests := []struct {
		name       string
		req        Request
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "empty request",
			req:        Request{},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required field: event",
		},
		{
			name:       "malformed payload",
			req:        Request{Payload: "{not json"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid JSON payload",
		},
		{
			name:       "pipeline failure",
			req:        Request{Body: []byte(`{"event":"Central bank raises interest rates"}`)},
			err:        &causal.ValidationFailure{Err: &causal.NoStepsError{}},
			wantStatus: http.StatusBadRequest,
			wantError:  "Analysis failed: no causal steps generated",
		},
		{
			name: "provider not configured",
			req:  Request{Body: []byte(`{"event":"Central bank raises interest rates"}`)},
			err: &causal.ValidationFailure{Err: &causal.GenerationError{
				Message: "LLM call failed", Cause: adapter.ErrProviderNotConfigured,
			}},
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "Service unavailable: LLM provider not configured",
		},
		{
			name:       "unexpected error",
			req:        Request{Body: []byte(`{"event":"Central bank raises interest rates"}`)},
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal server error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeAnalyzer{err: tt.err})
			resp := h.Handle(context.Background(), tt.req)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantError, decodeError(t, resp.Body))
		})
	}
}

func TestHandleTimeout(t *testing.T) {
	h := NewHandler(&fakeAnalyzer{wait: true}, WithTimeout(20*time.Millisecond))

	resp := h.Handle(context.Background(), Request{Body: []byte(`{"event":"Central bank raises interest rates"}`)})
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "Analysis timed out", decodeError(t, resp.Body))
}

func TestHandleLogsOutcome(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := NewHandler(&fakeAnalyzer{err: fmt.Errorf("wrapped: %w", &causal.ValidationFailure{
		Err: &causal.ParseError{Excerpt: "oops", Cause: errors.New("bad")},
	})}, WithLogger(zap.New(core)))

	h.Handle(context.Background(), Request{Body: []byte(`{"event":"Central bank raises interest rates"}`)})

	failed := logs.FilterMessage("analysis failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "parse_error", failed[0].ContextMap()["outcome"])
}
