package causal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPerspective = "balanced"
	DefaultDetailLevel = 5

	MinDetailLevel = 1
	MaxDetailLevel = 7
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewAnalysisRequest trims and validates caller input. The event must be
// 5-300 characters; the detail level is clamped to [1,7].
func NewAnalysisRequest(event, perspective string, detailLevel int) (AnalysisRequest, error) {
	req := AnalysisRequest{
		Event:       strings.TrimSpace(event),
		Perspective: strings.TrimSpace(perspective),
		DetailLevel: clamp(detailLevel, MinDetailLevel, MaxDetailLevel),
	}
	if req.Perspective == "" {
		req.Perspective = DefaultPerspective
	}

	if err := validate.Struct(req); err != nil {
		return AnalysisRequest{}, toInputError(err)
	}
	return req, nil
}

func toInputError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &InputValidationError{Field: "request", Message: err.Error()}
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field())

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "min":
		msg = fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		msg = fmt.Sprintf("failed %q check", fe.Tag())
	}
	return &InputValidationError{Field: field, Message: msg}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
