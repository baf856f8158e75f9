package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/reasoner"
	"github.com/kirokuhq/kiroku/internal/testutil"
)

// stubLLM returns canned responses keyed by a substring of the system prompt.
type stubLLM struct {
	respond func(system, user string) (string, error)
	calls   []string
}

func (s *stubLLM) Complete(_ context.Context, system, user string) (string, error) {
	s.calls = append(s.calls, user)
	return s.respond(system, user)
}

func (s *stubLLM) CompleteMessages(_ context.Context, messages []reasoner.Message, _ bool) (string, error) {
	return s.respond(messages[0].Content, messages[len(messages)-1].Content)
}

func TestParseRawInput(t *testing.T) {
	t.Run("decodes structured fields", func(t *testing.T) {
		p := &Pipeline{
			llm: &stubLLM{respond: func(_, _ string) (string, error) {
				return `{"what":"hire a designer","context":"brand refresh","expected_output":"new site","decision_rationale":"credibility"}`, nil
			}},
			logger: testutil.TestLogger(),
		}
		parsed := p.parseRawInput(context.Background(), "ummm need design help")
		assert.Equal(t, "hire a designer", parsed.What)
		assert.Equal(t, "brand refresh", parsed.Context)
	})

	t.Run("falls back to truncated raw input", func(t *testing.T) {
		p := &Pipeline{
			llm:    &stubLLM{respond: func(_, _ string) (string, error) { return "not json", nil }},
			logger: testutil.TestLogger(),
		}
		raw := strings.Repeat("z", 300)
		parsed := p.parseRawInput(context.Background(), raw)
		assert.Len(t, parsed.What, 200)
		assert.Empty(t, parsed.Context)
	})

	t.Run("completion error falls back too", func(t *testing.T) {
		p := &Pipeline{
			llm:    &stubLLM{respond: func(_, _ string) (string, error) { return "", errors.New("boom") }},
			logger: testutil.TestLogger(),
		}
		parsed := p.parseRawInput(context.Background(), "short input")
		assert.Equal(t, "short input", parsed.What)
	})
}

func TestDraftPlan(t *testing.T) {
	t.Run("fills missing step ids and statuses", func(t *testing.T) {
		p := &Pipeline{
			llm: &stubLLM{respond: func(_, _ string) (string, error) {
				return `{"insight":"do it","plan":[{"desc":"first step"},{"step_id":"abc","desc":"second","status":"pending"}]}`, nil
			}},
			logger: testutil.TestLogger(),
		}
		draft := p.draftPlan(context.Background(), parsedFields{What: "x"}, nil)
		require.Len(t, draft.Plan, 2)
		assert.NotEmpty(t, draft.Plan[0].StepID)
		assert.Equal(t, model.StepPending, draft.Plan[0].Status)
		assert.Equal(t, "abc", draft.Plan[1].StepID)
	})

	t.Run("decode failure yields manual-review plan", func(t *testing.T) {
		p := &Pipeline{
			llm:    &stubLLM{respond: func(_, _ string) (string, error) { return "garbage", nil }},
			logger: testutil.TestLogger(),
		}
		draft := p.draftPlan(context.Background(), parsedFields{What: "x"}, nil)
		require.Len(t, draft.Plan, 1)
		assert.Equal(t, "Review and plan manually", draft.Plan[0].Desc)
		assert.Contains(t, draft.Insight, "trouble analyzing")
	})

	t.Run("empty plan replaced with fallback", func(t *testing.T) {
		p := &Pipeline{
			llm:    &stubLLM{respond: func(_, _ string) (string, error) { return `{"insight":"ok","plan":[]}`, nil }},
			logger: testutil.TestLogger(),
		}
		draft := p.draftPlan(context.Background(), parsedFields{What: "x"}, nil)
		require.Len(t, draft.Plan, 1)
		assert.Equal(t, "ok", draft.Insight)
	})

	t.Run("grounding block reaches the prompt", func(t *testing.T) {
		stub := &stubLLM{respond: func(_, _ string) (string, error) {
			return `{"insight":"i","plan":[{"desc":"s"}]}`, nil
		}}
		p := &Pipeline{llm: stub, logger: testutil.TestLogger()}
		matches := []model.SimilarMatch{
			{Similarity: 0.9, What: strPtr("previous launch"), Outcome: outcomePtr(model.OutcomeFailure)},
		}
		p.draftPlan(context.Background(), parsedFields{What: "new launch"}, matches)
		require.Len(t, stub.calls, 1)
		assert.Contains(t, stub.calls[0], "previous launch")
		assert.Contains(t, stub.calls[0], "PAST SIMILAR DECISIONS")
	})
}

func TestExtractInsightsDefaults(t *testing.T) {
	what := "ship the beta"
	outcome := model.OutcomeSuccess

	t.Run("missing fields collapse to sentinel", func(t *testing.T) {
		p := &Pipeline{
			llm:    &stubLLM{respond: func(_, _ string) (string, error) { return `{"success_driver":""}`, nil }},
			logger: testutil.TestLogger(),
		}
		insights, err := p.extractInsights(context.Background(), model.Decision{
			RawInput: "raw", What: &what, Outcome: &outcome,
		})
		require.NoError(t, err)
		assert.Equal(t, model.NoClearPattern, insights.SuccessDriver)
		assert.Equal(t, model.NoClearPattern, insights.FailureReason)
	})

	t.Run("undecodable completion falls back to sentinels", func(t *testing.T) {
		p := &Pipeline{
			llm:    &stubLLM{respond: func(_, _ string) (string, error) { return "<<not json>>", nil }},
			logger: testutil.TestLogger(),
		}
		insights, err := p.extractInsights(context.Background(), model.Decision{RawInput: "raw"})
		require.NoError(t, err)
		assert.Equal(t, model.NoClearPattern, insights.SuccessDriver)
		assert.Equal(t, model.NoClearPattern, insights.FailureReason)
	})

	t.Run("transport failure is an error", func(t *testing.T) {
		p := &Pipeline{
			llm:    &stubLLM{respond: func(_, _ string) (string, error) { return "", errors.New("connection refused") }},
			logger: testutil.TestLogger(),
		}
		_, err := p.extractInsights(context.Background(), model.Decision{RawInput: "raw"})
		assert.Error(t, err)
	})

	t.Run("prompt carries title outcome and reflection", func(t *testing.T) {
		stub := &stubLLM{respond: func(_, _ string) (string, error) {
			return `{"success_driver":"focus","failure_reason":"none"}`, nil
		}}
		p := &Pipeline{llm: stub, logger: testutil.TestLogger()}
		reflection := "stayed focused on one feature"
		_, err := p.extractInsights(context.Background(), model.Decision{
			RawInput: "raw", What: &what, Outcome: &outcome, Reflection: &reflection,
		})
		require.NoError(t, err)
		require.Len(t, stub.calls, 1)
		assert.Contains(t, stub.calls[0], "ship the beta")
		assert.Contains(t, stub.calls[0], "SUCCESS")
		assert.Contains(t, stub.calls[0], reflection)
	})
}
