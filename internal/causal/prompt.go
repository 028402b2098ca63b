package causal

import (
	"fmt"
	"time"

	"github.com/butterflyhq/butterfly/internal/llm/types"
)

const systemPrompt = `You build reverse-chronological causal chains for real-world events.

FACTUAL ACCURACY:
- Only include events that actually happened. Never invent events, people or releases.
- Check dates carefully. When unsure of an exact date use a coarser form (YYYY or YYYY-MM).
- Stay within commonly accepted causal links; do not speculate.

CHAIN RULES:
- Begin at the event itself (the present) and move backward in time.
- Produce 6-10 steps, each no longer than 60 words.
- Prefer concrete mechanisms (decisions, policies, shocks, contracts) over vague factors.
- Rate every step with "confidence": "High", "Medium" or "Low".
- Whenever confidence is not "High", "evidence_needed" is mandatory: one line naming what would verify the step.
- Include sources you are certain of; otherwise leave "sources" empty.
- "depends_on" lists the ids of earlier steps this step builds on.

OUTPUT FORMAT:
- Respond with valid JSON matching the schema below exactly.
- Start with { and end with }. No prose, no markdown, no code fences.

Schema:
{
  "steps": [
    {
      "id": "c1",
      "title": "string",
      "summary": "string",
      "when": "YYYY or YYYY-MM or YYYY-MM-DD",
      "mechanism": "string",
      "confidence": "High | Medium | Low",
      "evidence_needed": "string (required unless confidence is High)",
      "sources": [{"title": "string", "url": "string"}],
      "depends_on": ["c2", "c3"]
    }
  ]
}`

// buildMessages renders the system and user instructions for one run.
func buildMessages(st *AnalysisState, now time.Time) []types.Message {
	user := fmt.Sprintf(`Event: %q
Perspective: %q
Detail level (1-7): %d
Current date: %s

Generate a reverse-chronological causal chain starting from this event and working backward in time.

Only include events that actually happened and verify every date. Do not speculate about events that may not have occurred.`,
		st.Event, st.Perspective, st.DetailLevel, now.Format("2006-01-02"))

	return []types.Message{
		{Role: types.RoleSystem, Content: systemPrompt},
		{Role: types.RoleUser, Content: user},
	}
}
