package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/search"
	"github.com/kirokuhq/kiroku/internal/service/embedding"
	"github.com/kirokuhq/kiroku/internal/storage"
	"github.com/kirokuhq/kiroku/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

// newTestPipeline wires a pipeline against the container DB with the
// deterministic embedder and the given stub reasoner.
func newTestPipeline(llm *stubLLM) (*Pipeline, embedding.Provider) {
	logger := testutil.TestLogger()
	embedder := embedding.NewFallbackProvider(embedding.Dimensions)
	engine := search.NewEngine(testDB, embedder, logger)
	return New(testDB, engine, embedder, llm, logger), embedder
}

// draftStub answers the parse and advisor prompts with fixed JSON.
func draftStub(parseJSON, advisorJSON string) *stubLLM {
	return &stubLLM{respond: func(system, user string) (string, error) {
		if strings.Contains(system, "structured-data extractor") {
			return parseJSON, nil
		}
		return advisorJSON, nil
	}}
}

func TestDraftAndSearchFillsDecision(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()

	d, err := testDB.CreateDecision(ctx, owner, "should we migrate off heroku before the funding round")
	require.NoError(t, err)

	llm := draftStub(
		`{"what": "migrate off Heroku", "context": "costs are ballooning", "expected_output": "hosting bill halved", "decision_rationale": "runway matters before the round"}`,
		`{"insight": "No history to draw from, but phased migrations fail less.", "plan": [{"desc": "inventory dynos"}, {"desc": "pick target platform", "status": "pending"}]}`,
	)
	pipe, _ := newTestPipeline(llm)

	require.NoError(t, pipe.DraftAndSearch(ctx, model.JobPayload{DecisionID: d.ID}))

	got, err := testDB.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.What)
	assert.Equal(t, "migrate off Heroku", *got.What)
	require.NotNil(t, got.Context)
	assert.Equal(t, "costs are ballooning", *got.Context)
	require.NotNil(t, got.Insight)
	assert.Contains(t, *got.Insight, "phased migrations")

	// Plan steps come back with generated ids and pending status.
	require.Len(t, got.Plan, 2)
	for _, step := range got.Plan {
		assert.NotEmpty(t, step.StepID)
		assert.Equal(t, model.StepPending, step.Status)
	}

	// Drafting leaves the decision in PLANNING for the user to confirm.
	assert.Equal(t, model.StatusPlanning, got.Status)
}

func TestDraftAndSearchGroundsOnPastDecision(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()

	embedder := embedding.NewFallbackProvider(embedding.Dimensions)

	// A completed past decision whose embedding matches the query text the
	// draft stage will build from the parsed fields.
	past, err := testDB.CreateDecision(ctx, owner, "rewrite the onboarding emails")
	require.NoError(t, err)
	require.NoError(t, testDB.CompleteDecision(ctx, past.ID, model.OutcomeFailure, "nobody read them", false))
	require.NoError(t, testDB.UpdateSearchText(ctx, past.ID, "rewrite the onboarding emails"))

	what := "rewrite onboarding emails again"
	because := "activation is slipping"
	rationale := "email is our only nudge channel"
	queryVec, err := embedder.Embed(ctx, search.BuildQueryText(what, because, rationale))
	require.NoError(t, err)
	require.NoError(t, testDB.UpsertEmbedding(ctx, past.ID, owner, queryVec, "h"))

	var advisorUser string
	llm := &stubLLM{respond: func(system, user string) (string, error) {
		if strings.Contains(system, "structured-data extractor") {
			return fmt.Sprintf(`{"what": %q, "context": %q, "expected_output": "more activations", "decision_rationale": %q}`,
				what, because, rationale), nil
		}
		advisorUser = user
		return `{"insight": "Last time the rewrite failed because nobody read them.", "plan": [{"desc": "test subject lines first"}]}`, nil
	}}
	pipe, _ := newTestPipeline(llm)

	d, err := testDB.CreateDecision(ctx, owner, "thinking about redoing the onboarding emails once more")
	require.NoError(t, err)
	require.NoError(t, pipe.DraftAndSearch(ctx, model.JobPayload{DecisionID: d.ID}))

	got, err := testDB.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, got.SimilarMatches, 1)
	assert.Equal(t, past.ID, got.SimilarMatches[0].DecisionID)

	// The advisor prompt carried the grounding block for the match.
	assert.Contains(t, advisorUser, "Past Decision 1")
	assert.Contains(t, advisorUser, "nobody read them")
}

func TestDraftAndSearchUnparsableModelOutput(t *testing.T) {
	ctx := context.Background()

	d, err := testDB.CreateDecision(ctx, uuid.New(), "some long rambling thought about pricing tiers and what to charge")
	require.NoError(t, err)

	llm := draftStub("definitely not json", "also not json")
	pipe, _ := newTestPipeline(llm)

	// Garbage model output degrades to fallbacks instead of failing the job.
	require.NoError(t, pipe.DraftAndSearch(ctx, model.JobPayload{DecisionID: d.ID}))

	got, err := testDB.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.What)
	assert.Contains(t, *got.What, "pricing tiers")
	require.NotNil(t, got.Insight)
	assert.Contains(t, *got.Insight, "review the plan manually")
	require.Len(t, got.Plan, 1)
}

func TestExtractAndEmbed(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()

	d, err := testDB.CreateDecision(ctx, owner, "switch the team to async standups")
	require.NoError(t, err)
	require.NoError(t, testDB.CompleteDecision(ctx, d.ID, model.OutcomeSuccess, "everyone got an hour back", false))

	llm := &stubLLM{respond: func(system, user string) (string, error) {
		require.Contains(t, system, "cognitive analyst")
		return `{"success_driver": "removing the meeting instead of shortening it", "failure_reason": null}`, nil
	}}
	pipe, _ := newTestPipeline(llm)

	require.NoError(t, pipe.ExtractAndEmbed(ctx, model.JobPayload{DecisionID: d.ID}))

	got, err := testDB.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SuccessDriver)
	assert.Equal(t, "removing the meeting instead of shortening it", *got.SuccessDriver)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, model.NoClearPattern, *got.FailureReason)
	assert.NotEmpty(t, got.SearchText)
	assert.Contains(t, got.SearchText, "async standups")

	n, err := testDB.CountEmbeddings(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Re-running the stage is idempotent: still exactly one embedding.
	require.NoError(t, pipe.ExtractAndEmbed(ctx, model.JobPayload{DecisionID: d.ID}))
	n, err = testDB.CountEmbeddings(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExtractAndEmbedUndecodableReflectionFallsBack(t *testing.T) {
	ctx := context.Background()

	d, err := testDB.CreateDecision(ctx, uuid.New(), "hire a contractor for the mobile app")
	require.NoError(t, err)
	require.NoError(t, testDB.CompleteDecision(ctx, d.ID, model.OutcomeFailure, "scope exploded", false))

	llm := &stubLLM{respond: func(system, user string) (string, error) {
		return "<<not json>>", nil
	}}
	pipe, _ := newTestPipeline(llm)

	// Undecodable insight extraction never fails the job; both insight
	// fields collapse to the sentinel and the stage completes.
	require.NoError(t, pipe.ExtractAndEmbed(ctx, model.JobPayload{DecisionID: d.ID}))

	got, err := testDB.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SuccessDriver)
	assert.Equal(t, model.NoClearPattern, *got.SuccessDriver)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, model.NoClearPattern, *got.FailureReason)
	assert.NotEmpty(t, got.SearchText)
	assert.Contains(t, got.SearchText, "hire a contractor")

	n, err := testDB.CountEmbeddings(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
