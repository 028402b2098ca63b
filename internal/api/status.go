// Package api maps analysis outcomes to transport status codes and error
// bodies. The HTTP server, the WebSocket stream and the function adapter all
// use it so a given failure is reported the same way everywhere.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/butterflyhq/butterfly/internal/causal"
	"github.com/butterflyhq/butterfly/internal/llm/adapter"
	"github.com/butterflyhq/butterfly/pkg/types"
)

// StatusForError returns the HTTP status for an analysis error. A nil error
// maps to 200.
func StatusForError(err error) int {
	var input *causal.InputValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, types.ErrInvalidPayload), errors.Is(err, types.ErrMissingEvent):
		return http.StatusBadRequest
	case errors.As(err, &input):
		return http.StatusBadRequest
	case errors.Is(err, adapter.ErrProviderNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case causal.IsValidationFailure(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage returns the client-facing message for err.
func ErrorMessage(err error) string {
	var input *causal.InputValidationError
	switch {
	case errors.Is(err, types.ErrInvalidPayload):
		return "Invalid JSON payload"
	case errors.Is(err, types.ErrMissingEvent):
		return "Missing required field: event"
	case errors.As(err, &input):
		return fmt.Sprintf("Invalid request: %s", input.Error())
	case errors.Is(err, adapter.ErrProviderNotConfigured):
		return "Service unavailable: LLM provider not configured"
	case errors.Is(err, context.DeadlineExceeded):
		return "Analysis timed out"
	case errors.Is(err, context.Canceled):
		return "Analysis canceled"
	case causal.IsValidationFailure(err):
		return fmt.Sprintf("Analysis failed: %s", err.Error())
	default:
		return fmt.Sprintf("Internal server error: %s", err.Error())
	}
}

// ErrorBody returns the status and JSON body for err.
func ErrorBody(err error) (int, []byte) {
	body, _ := json.Marshal(types.ErrorResponse{Error: ErrorMessage(err)})
	return StatusForError(err), body
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the mapped status and error body for err.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusForError(err), types.ErrorResponse{Error: ErrorMessage(err)})
}
