package causal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/butterflyhq/butterfly/internal/metrics"
	"github.com/butterflyhq/butterfly/internal/search"
)

const (
	maxSourcesPerStep = 2
	titleSnippetLen   = 50
	unknownSource     = "Unknown Source"
)

// stepResult is the outcome of extracting one structured record.
type stepResult struct {
	step CausalStep
	err  error
}

// verify converts StructuredSteps into VerifiedSteps, searching for evidence
// where the model asked for it. Malformed records are dropped.
func (p *Pipeline) verify(ctx context.Context, st *AnalysisState, obs Observer) {
	if st.Err != nil || len(st.StructuredSteps) == 0 {
		p.logger.Warn("skipping verification", zap.Bool("has_error", st.Err != nil))
		return
	}

	results := make([]stepResult, 0, len(st.StructuredSteps))
	for i, entry := range st.StructuredSteps {
		step, err := extractStep(i, entry)
		results = append(results, stepResult{step: step, err: err})
	}
	assignIDs(results)

	verified := make([]CausalStep, 0, len(results))
	for i, r := range results {
		if r.err != nil {
			st.Dropped++
			metrics.StepsDropped.Inc()
			p.logger.Debug("dropping malformed step", zap.Int("index", i), zap.Error(r.err))
			continue
		}

		step := r.step
		if n := len(step.Sources); n > 0 {
			metrics.SourcesAttached.WithLabelValues("model").Add(float64(n))
		}

		if step.NeedsEvidence() && ctx.Err() == nil {
			sources, err := p.searchSources(ctx, step)
			switch {
			case errors.Is(err, search.ErrSearchNotConfigured):
				p.logger.Debug("search not configured, keeping step unsourced", zap.String("step", step.ID))
			case err != nil:
				st.SearchFailures++
				metrics.SearchFailures.Inc()
				p.logger.Warn("search failed, continuing without sources",
					zap.String("step", step.ID), zap.Error(err))
			default:
				step.Sources = sources
				metrics.SourcesAttached.WithLabelValues("search").Add(float64(len(sources)))
			}
		}

		verified = append(verified, step)
		obs.emit(ProgressEvent{Stage: StageVerify, Step: &step})
	}

	st.VerifiedSteps = verified
	if st.Dropped > 0 {
		p.logger.Warn("dropped malformed steps", zap.Int("dropped", st.Dropped), zap.Int("kept", len(verified)))
	}
}

// searchSources runs the evidence query for step. A panicking searcher is
// reported as an error like any other failure.
func (p *Pipeline) searchSources(ctx context.Context, step CausalStep) (sources []Source, err error) {
	if p.searcher == nil {
		return nil, search.ErrSearchNotConfigured
	}
	defer func() {
		if r := recover(); r != nil {
			sources, err = nil, fmt.Errorf("search panicked: %v", r)
		}
	}()

	query := strings.TrimSpace(step.Title + " " + step.When)
	results, err := p.searcher.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(results) > maxSourcesPerStep {
		results = results[:maxSourcesPerStep]
	}
	sources = make([]Source, 0, len(results))
	for _, r := range results {
		url := strings.TrimSpace(r.URL)
		if url == "" {
			continue
		}
		sources = appendSource(sources, Source{Title: resultTitle(r), URL: url})
	}
	p.logger.Debug("attached search sources", zap.String("query", query), zap.Int("count", len(sources)))
	return sources, nil
}

func resultTitle(r search.Result) string {
	if t := strings.TrimSpace(r.Title); t != "" {
		return t
	}
	if c := strings.TrimSpace(r.Content); c != "" {
		return truncate(c, titleSnippetLen)
	}
	return unknownSource
}

// appendSource adds src unless its URL is already present or the cap is hit.
func appendSource(sources []Source, src Source) []Source {
	if len(sources) >= maxSourcesPerStep {
		return sources
	}
	for _, s := range sources {
		if s.URL == src.URL {
			return sources
		}
	}
	return append(sources, src)
}

// assignIDs gives every extracted step a unique id. Ids supplied by the
// model are reserved first so dependencies keep pointing at them; only a
// repeated explicit id is suffixed. Steps without an id take c{index+1}, or a
// suffixed form of it when the model already used that id.
func assignIDs(results []stepResult) {
	taken := make(map[string]bool, len(results))
	for _, r := range results {
		if r.err == nil && r.step.ID != "" {
			taken[r.step.ID] = true
		}
	}

	used := make(map[string]bool, len(results))
	for i := range results {
		r := &results[i]
		if r.err != nil {
			continue
		}
		id := r.step.ID
		switch {
		case id == "":
			if id = positionalID(i); taken[id] {
				id = freeID(id, taken)
			}
		case used[id]:
			id = freeID(id, taken)
		}
		taken[id], used[id] = true, true
		r.step.ID = id
	}
}

// freeID returns the first base-N (N >= 2) not in taken.
func freeID(base string, taken map[string]bool) string {
	for n := 2; ; n++ {
		if c := fmt.Sprintf("%s-%d", base, n); !taken[c] {
			return c
		}
	}
}

func positionalID(index int) string { return fmt.Sprintf("c%d", index+1) }

// extractStep converts one loosely-typed record into a CausalStep. Missing or
// null fields take defaults; fields of the wrong JSON type make the record
// malformed.
func extractStep(index int, entry any) (CausalStep, error) {
	m, ok := entry.(map[string]any)
	if !ok {
		return CausalStep{}, fmt.Errorf("step %d: expected object, got %s", index, jsonKind(entry))
	}

	var (
		step CausalStep
		err  error
	)
	if step.ID, err = stringField(m, "id"); err != nil {
		return CausalStep{}, err
	}
	step.ID = strings.TrimSpace(step.ID) // empty ids are assigned by assignIDs
	if step.Title, err = stringField(m, "title"); err != nil {
		return CausalStep{}, err
	}
	if step.Summary, err = stringField(m, "summary"); err != nil {
		return CausalStep{}, err
	}
	if step.When, err = stringField(m, "when"); err != nil {
		return CausalStep{}, err
	}
	if step.Mechanism, err = stringField(m, "mechanism"); err != nil {
		return CausalStep{}, err
	}

	label, err := stringField(m, "confidence")
	if err != nil {
		return CausalStep{}, err
	}
	step.Confidence = ParseConfidence(label)

	evidence, err := stringField(m, "evidence_needed")
	if err != nil {
		return CausalStep{}, err
	}
	if evidence = strings.TrimSpace(evidence); evidence != "" && step.Confidence != ConfidenceHigh {
		step.EvidenceNeeded = &evidence
	}

	if step.DependsOn, err = dependsOnField(m); err != nil {
		return CausalStep{}, err
	}
	step.Sources = embeddedSources(m["sources"])
	return step, nil
}

func stringField(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %s", key, jsonKind(v))
	}
	return s, nil
}

// dependsOnField reads depends_on as an ordered set of ids.
func dependsOnField(m map[string]any) ([]string, error) {
	out := []string{}
	v, ok := m["depends_on"]
	if !ok || v == nil {
		return out, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf(`field "depends_on": expected array, got %s`, jsonKind(v))
	}

	seen := make(map[string]bool, len(list))
	for _, item := range list {
		id, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf(`field "depends_on": expected string ids, got %s`, jsonKind(item))
		}
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// embeddedSources normalizes model-provided sources. Entries that are not
// objects or carry no url are skipped.
func embeddedSources(v any) []Source {
	out := []Source{}
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		url, _ := obj["url"].(string)
		if url = strings.TrimSpace(url); url == "" {
			continue
		}
		title, _ := obj["title"].(string)
		if title = strings.TrimSpace(title); title == "" {
			title = unknownSource
		}
		out = appendSource(out, Source{Title: title, URL: url})
	}
	return out
}
