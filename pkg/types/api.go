package types

// Package types defines the public request/response payloads shared by the
// HTTP service, the WebSocket stream and the serverless function entry point.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPerspective = "balanced"
	DefaultDetailLevel = 5

	// Bounds accepted at the transport boundary. The pipeline narrows further.
	MinDetailLevel = 1
	MaxDetailLevel = 10
)

var (
	// ErrInvalidPayload is returned for bodies that are not a JSON object of
	// the expected shape.
	ErrInvalidPayload = errors.New("invalid JSON payload")

	// ErrMissingEvent is returned when event is absent or blank.
	ErrMissingEvent = errors.New("event is required")
)

// AnalyzeRequest is the normalized analysis payload.
type AnalyzeRequest struct {
	Event       string `json:"event"`
	Perspective string `json:"perspective"`
	DetailLevel int    `json:"detail_level"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by the liveness endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewHealthResponse returns a healthy status stamped with t.
func NewHealthResponse(t time.Time) HealthResponse {
	return HealthResponse{Status: "healthy", Timestamp: t.UTC().Format(time.RFC3339)}
}

// ReadyResponse is returned by the readiness endpoint.
type ReadyResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Search   string `json:"search"`
	Store    string `json:"store,omitempty"` // ok | unavailable; omitted without a store
}

// InfoResponse describes the running service.
type InfoResponse struct {
	Service  string `json:"service"`
	Version  string `json:"version"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Search   string `json:"search"`
}

// ParseAnalyzeRequest decodes body into an AnalyzeRequest. An empty body is
// treated as an empty object. The detail level may be sent as detail_level
// or detailLevel, as a number or a numeric string, and is clamped to [1,10].
func ParseAnalyzeRequest(body []byte) (AnalyzeRequest, error) {
	var raw map[string]json.RawMessage
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return AnalyzeRequest{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	event, err := optionalString(raw, "event")
	if err != nil {
		return AnalyzeRequest{}, err
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return AnalyzeRequest{}, ErrMissingEvent
	}

	perspective, err := optionalString(raw, "perspective")
	if err != nil {
		return AnalyzeRequest{}, err
	}
	if perspective = strings.TrimSpace(perspective); perspective == "" {
		perspective = DefaultPerspective
	}

	level := DefaultDetailLevel
	for _, key := range []string{"detail_level", "detailLevel"} {
		v, ok := raw[key]
		if !ok || isNull(v) {
			continue
		}
		if level, err = parseDetailLevel(v); err != nil {
			return AnalyzeRequest{}, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, key, err)
		}
		break
	}

	return AnalyzeRequest{
		Event:       event,
		Perspective: perspective,
		DetailLevel: ClampDetailLevel(level),
	}, nil
}

// ClampDetailLevel clamps level to [MinDetailLevel, MaxDetailLevel].
func ClampDetailLevel(level int) int {
	if level < MinDetailLevel {
		return MinDetailLevel
	}
	if level > MaxDetailLevel {
		return MaxDetailLevel
	}
	return level
}

func optionalString(raw map[string]json.RawMessage, key string) (string, error) {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidPayload, key)
	}
	return s, nil
}

// parseDetailLevel accepts a JSON number or a numeric string. Fractions are
// truncated and out-of-range magnitudes saturate before clamping.
func parseDetailLevel(v json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, errors.New("must be a number")
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", s)
		}
		f = n
	}
	if math.IsNaN(f) {
		return 0, errors.New("must be a number")
	}
	switch {
	case f > MaxDetailLevel:
		return MaxDetailLevel, nil
	case f < MinDetailLevel:
		return MinDetailLevel, nil
	}
	return int(f), nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
