package causal

import "time"

// assemble builds the response, or a ValidationFailure when the run produced
// an error or no usable steps. Event and perspective come from req.
func assemble(req AnalysisRequest, st *AnalysisState, now time.Time) (*AnalysisResponse, error) {
	if st.Err != nil {
		return nil, &ValidationFailure{Err: st.Err}
	}
	if len(st.VerifiedSteps) == 0 {
		return nil, &ValidationFailure{Err: &NoStepsError{Dropped: st.Dropped}}
	}

	return &AnalysisResponse{
		Event:       req.Event,
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Perspective: req.Perspective,
		Steps:       st.VerifiedSteps,
		Diagnostics: Diagnostics{
			StepsReceived:  len(st.StructuredSteps),
			StepsDropped:   st.Dropped,
			SearchFailures: st.SearchFailures,
		},
	}, nil
}
