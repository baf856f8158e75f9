package pipeline

import (
	"fmt"
	"strings"

	"github.com/kirokuhq/kiroku/internal/model"
)

// buildGroundingBlock renders retrieved past decisions into the prompt
// section the advisor is instructed to treat as primary evidence. Returns
// "" when there are no matches, collapsing the prompt to general advice.
func buildGroundingBlock(matches []model.SimilarMatch) string {
	if len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n===== CRITICAL: PAST SIMILAR DECISIONS (YOUR PRIMARY SOURCE OF TRUTH) =====\n")
	b.WriteString("The user has made similar decisions before. You MUST reference these patterns in your insight.\n")
	b.WriteString("Do NOT ignore this section - it is more important than your general knowledge.\n\n")

	for i, m := range matches {
		fmt.Fprintf(&b, "--- Past Decision %d (similarity: %.0f%%) ---\n", i+1, m.Similarity*100)
		fmt.Fprintf(&b, "Decision: %s\n", m.Title())
		if m.Context != nil && *m.Context != "" {
			fmt.Fprintf(&b, "Context: %s\n", *m.Context)
		}
		fmt.Fprintf(&b, "Outcome: %s\n", outcomeLabel(m.Outcome))
		if m.Reflection != nil && *m.Reflection != "" {
			fmt.Fprintf(&b, "User's Reflection: %q\n", *m.Reflection)
		}
		if insight := meaningfulInsight(m.SuccessDriver); insight != "" {
			fmt.Fprintf(&b, "SUCCESS FACTOR: %s\n", insight)
		}
		if insight := meaningfulInsight(m.FailureReason); insight != "" {
			fmt.Fprintf(&b, "FAILURE REASON: %s\n", insight)
		}
		if m.PlanSummary != "" {
			fmt.Fprintf(&b, "Plan steps taken: %s\n", m.PlanSummary)
		}
		b.WriteString("\n")
	}

	var successes, failures []model.SimilarMatch
	for _, m := range matches {
		switch {
		case m.Outcome != nil && *m.Outcome == model.OutcomeSuccess:
			successes = append(successes, m)
		case m.Outcome != nil && *m.Outcome == model.OutcomeFailure:
			failures = append(failures, m)
		}
	}

	b.WriteString("--- PATTERN SUMMARY ---\n")
	fmt.Fprintf(&b, "%d similar decisions succeeded, %d failed.\n", len(successes), len(failures))

	if reasons := collectInsights(failures, func(m model.SimilarMatch) *string { return m.FailureReason }); len(reasons) > 0 {
		fmt.Fprintf(&b, "Key failure reasons to AVOID: %s\n", strings.Join(reasons, "; "))
	}
	if reasons := collectInsights(successes, func(m model.SimilarMatch) *string { return m.SuccessDriver }); len(reasons) > 0 {
		fmt.Fprintf(&b, "Key success factors to REPLICATE: %s\n", strings.Join(reasons, "; "))
	}

	b.WriteString("\nYour insight MUST mention these past patterns. Be specific, not generic.\n")
	return b.String()
}

func outcomeLabel(o *model.Outcome) string {
	if o == nil || *o == "" {
		return "unknown"
	}
	return string(*o)
}

// meaningfulInsight filters out empty values and the vague-reflection
// sentinel, which carries no signal worth prompting with.
func meaningfulInsight(s *string) string {
	if s == nil || *s == "" || *s == model.NoClearPattern {
		return ""
	}
	return *s
}

func collectInsights(matches []model.SimilarMatch, field func(model.SimilarMatch) *string) []string {
	var out []string
	for _, m := range matches {
		if v := meaningfulInsight(field(m)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
