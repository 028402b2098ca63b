package causal

import "strings"

// Confidence is the model's certainty label for a step.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// ParseConfidence maps a model label onto Confidence. Unknown or empty
// labels are treated as Medium.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "low":
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}

// Source is a citation attached to a step.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// CausalStep is one validated link in the chain.
type CausalStep struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Summary        string     `json:"summary"`
	When           string     `json:"when"`
	Mechanism      string     `json:"mechanism"`
	Confidence     Confidence `json:"confidence"`
	EvidenceNeeded *string    `json:"evidence_needed"`
	Sources        []Source   `json:"sources"`
	DependsOn      []string   `json:"depends_on"`
}

// NeedsEvidence reports whether verification should search for sources.
func (s CausalStep) NeedsEvidence() bool {
	return len(s.Sources) == 0 &&
		s.Confidence != ConfidenceHigh &&
		s.EvidenceNeeded != nil && strings.TrimSpace(*s.EvidenceNeeded) != ""
}

// AnalysisRequest is the validated input of a pipeline run.
type AnalysisRequest struct {
	Event       string `json:"event" validate:"required,min=5,max=300"`
	Perspective string `json:"perspective"`
	DetailLevel int    `json:"detail_level"`
}

// AnalysisResponse is the successful result of a run.
type AnalysisResponse struct {
	Event       string       `json:"event"`
	GeneratedAt string       `json:"generated_at"`
	Perspective string       `json:"perspective"`
	Steps       []CausalStep `json:"steps"`

	// Diagnostics is kept out of the response body.
	Diagnostics Diagnostics `json:"-"`
}

// Diagnostics records what a run silently absorbed.
type Diagnostics struct {
	StepsReceived  int
	StepsDropped   int
	SearchFailures int
}

// AnalysisState is threaded through the stages of one run. It is owned by
// that run and never shared. Once Err is set no later stage fills
// VerifiedSteps.
type AnalysisState struct {
	Event       string
	Perspective string
	DetailLevel int

	RawModelOutput  string
	StructuredSteps []any // loosely-typed step records; nil = absent
	VerifiedSteps   []CausalStep
	Err             error

	// Dropped counts step records discarded as malformed.
	Dropped int
	// SearchFailures counts steps whose evidence search failed.
	SearchFailures int
}

func newState(req AnalysisRequest) *AnalysisState {
	return &AnalysisState{
		Event:       req.Event,
		Perspective: req.Perspective,
		DetailLevel: req.DetailLevel,
	}
}
