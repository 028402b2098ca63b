package causal

import (
	"context"
	"errors"
	"fmt"
)

// InputValidationError reports a request that cannot be analyzed.
type InputValidationError struct {
	Field   string
	Message string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// GenerationError reports a failed or empty model call.
type GenerationError struct {
	Message string
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// ParseError reports model output that is not usable JSON. Raw keeps the
// complete output for diagnostics; Excerpt is what goes into messages.
type ParseError struct {
	Excerpt string
	Raw     string
	Cause   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse JSON response: %v. Response was: %s...", e.Cause, e.Excerpt)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// NoStepsError reports a successful model call that produced no usable step.
type NoStepsError struct {
	Dropped int
}

func (e *NoStepsError) Error() string {
	if e.Dropped > 0 {
		return fmt.Sprintf("no causal steps generated (%d malformed entries dropped)", e.Dropped)
	}
	return "no causal steps generated"
}

// ValidationFailure is the single failure type returned by a pipeline run.
// It unwraps to the specific stage error.
type ValidationFailure struct {
	Err error
}

func (e *ValidationFailure) Error() string { return e.Err.Error() }

func (e *ValidationFailure) Unwrap() error { return e.Err }

// IsValidationFailure reports whether err is a pipeline validation failure.
func IsValidationFailure(err error) bool {
	var vf *ValidationFailure
	return errors.As(err, &vf)
}

// Outcome labels err for metrics and audit records.
func Outcome(err error) string {
	var (
		gen   *GenerationError
		parse *ParseError
		none  *NoStepsError
		input *InputValidationError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &input):
		return "invalid_input"
	case errors.As(err, &parse):
		return "parse_error"
	case errors.As(err, &none):
		return "no_steps"
	case errors.As(err, &gen):
		return "generation_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "aborted"
	default:
		return "error"
	}
}
