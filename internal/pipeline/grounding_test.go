package pipeline

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/kirokuhq/kiroku/internal/model"
)

func strPtr(s string) *string { return &s }

func outcomePtr(o model.Outcome) *model.Outcome { return &o }

func TestBuildGroundingBlockEmpty(t *testing.T) {
	assert.Equal(t, "", buildGroundingBlock(nil))
	assert.Equal(t, "", buildGroundingBlock([]model.SimilarMatch{}))
}

func TestBuildGroundingBlock(t *testing.T) {
	matches := []model.SimilarMatch{
		{
			DecisionID:    uuid.New(),
			Similarity:    0.82,
			What:          strPtr("launch paid tier"),
			Context:       strPtr("freemium was not converting"),
			Outcome:       outcomePtr(model.OutcomeSuccess),
			Reflection:    strPtr("pricing page rewrite did it"),
			SuccessDriver: strPtr("clear value proposition"),
			FailureReason: strPtr(model.NoClearPattern),
			PlanSummary:   "[done] draft pricing, [done] ship page",
		},
		{
			DecisionID:    uuid.New(),
			Similarity:    0.61,
			RawInput:      "thinking about another discount campaign",
			Outcome:       outcomePtr(model.OutcomeFailure),
			FailureReason: strPtr("discounts attracted churners"),
		},
	}

	block := buildGroundingBlock(matches)

	assert.Contains(t, block, "Past Decision 1 (similarity: 82%)")
	assert.Contains(t, block, "Decision: launch paid tier")
	assert.Contains(t, block, "Context: freemium was not converting")
	assert.Contains(t, block, "SUCCESS FACTOR: clear value proposition")
	assert.Contains(t, block, "Plan steps taken: [done] draft pricing")

	// Raw input stands in for a missing title.
	assert.Contains(t, block, "Decision: thinking about another discount campaign")
	assert.Contains(t, block, "FAILURE REASON: discounts attracted churners")

	assert.Contains(t, block, "1 similar decisions succeeded, 1 failed.")
	assert.Contains(t, block, "Key failure reasons to AVOID: discounts attracted churners")
	assert.Contains(t, block, "Key success factors to REPLICATE: clear value proposition")

	// The vague-reflection sentinel never reaches the prompt.
	assert.NotContains(t, block, model.NoClearPattern)
}

func TestBuildGroundingBlockUnknownOutcome(t *testing.T) {
	block := buildGroundingBlock([]model.SimilarMatch{
		{DecisionID: uuid.New(), Similarity: 0.5, RawInput: "open an office"},
	})
	assert.Contains(t, block, "Outcome: unknown")
	assert.Contains(t, block, "0 similar decisions succeeded, 0 failed.")
}

func TestContentHash(t *testing.T) {
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		ContentHash("hello"),
	)
	assert.NotEqual(t, ContentHash("a"), ContentHash("b"))
}
