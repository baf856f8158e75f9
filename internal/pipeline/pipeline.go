// Package pipeline implements the two asynchronous stages that enrich a
// decision after user actions: drafting (parse, retrieve, advise) after
// creation, and insight extraction plus embedding after completion.
//
// Both handlers are idempotent: a retried job re-derives and overwrites the
// same derived state, never duplicating it.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/reasoner"
	"github.com/kirokuhq/kiroku/internal/search"
	"github.com/kirokuhq/kiroku/internal/service/embedding"
	"github.com/kirokuhq/kiroku/internal/storage"
	"github.com/kirokuhq/kiroku/internal/telemetry"
)

// maxSimilarMatches is how many past decisions the draft stage retrieves.
const maxSimilarMatches = 5

// Pipeline holds the resources the stage handlers need. All dependencies
// are injected; nothing reads process-global state.
type Pipeline struct {
	db       *storage.DB
	engine   *search.Engine
	embedder embedding.Provider
	llm      reasoner.Client
	logger   *slog.Logger

	embedFailures metric.Int64Counter
}

// New creates a pipeline.
func New(db *storage.DB, engine *search.Engine, embedder embedding.Provider, llm reasoner.Client, logger *slog.Logger) *Pipeline {
	meter := telemetry.Meter("kiroku/pipeline")
	embedFailures, _ := meter.Int64Counter("kiroku.pipeline.embed_failures",
		metric.WithDescription("Embedding upserts that failed and were skipped"),
	)
	return &Pipeline{
		db:            db,
		engine:        engine,
		embedder:      embedder,
		llm:           llm,
		logger:        logger,
		embedFailures: embedFailures,
	}
}

// parsedFields is the output of the parse step.
type parsedFields struct {
	What           string `json:"what"`
	Context        string `json:"context"`
	ExpectedOutput string `json:"expected_output"`
	Rationale      string `json:"decision_rationale"`
}

// draftOutput is the advisor's response.
type draftOutput struct {
	Insight string           `json:"insight"`
	Plan    []model.PlanStep `json:"plan"`
}

// extractedInsights is the reflection analysis result.
type extractedInsights struct {
	SuccessDriver string `json:"success_driver"`
	FailureReason string `json:"failure_reason"`
}

// DraftAndSearch parses the raw input into structured fields, retrieves
// similar past decisions, and drafts an insight and plan grounded in them.
func (p *Pipeline) DraftAndSearch(ctx context.Context, payload model.JobPayload) error {
	ctx, span := telemetry.Tracer("kiroku/pipeline").Start(ctx, "pipeline.draft_and_search")
	defer span.End()

	d, err := p.db.GetDecision(ctx, payload.DecisionID)
	if err != nil {
		return fmt.Errorf("pipeline: draft: %w", err)
	}

	p.logger.Info("pipeline: parsing raw input", "decision_id", d.ID)
	parsed := p.parseRawInput(ctx, d.RawInput)

	p.logger.Info("pipeline: retrieving similar decisions", "decision_id", d.ID)
	queryText := search.BuildQueryText(parsed.What, parsed.Context, parsed.Rationale)
	matches, err := p.engine.FindSimilar(ctx, queryText, d.OwnerID, &d.ID, maxSimilarMatches)
	if err != nil {
		return fmt.Errorf("pipeline: draft: %w", err)
	}
	if len(matches) > 0 {
		p.logger.Info("pipeline: top match",
			"decision_id", d.ID,
			"match", matches[0].Title(),
			"similarity", matches[0].Similarity,
		)
	}

	p.logger.Info("pipeline: drafting plan", "decision_id", d.ID, "matches", len(matches))
	draft := p.draftPlan(ctx, parsed, matches)

	if err := p.db.UpdateDraftResults(ctx, d.ID,
		draft.Plan, matches,
		nilIfEmpty(parsed.What),
		nilIfEmpty(parsed.Context),
		nilIfEmpty(parsed.ExpectedOutput),
		nilIfEmpty(parsed.Rationale),
		nilIfEmpty(draft.Insight),
	); err != nil {
		return fmt.Errorf("pipeline: draft: %w", err)
	}

	if err := p.db.NotifyDecisionUpdated(ctx, d.ID); err != nil {
		p.logger.Warn("pipeline: notify failed", "decision_id", d.ID, "error", err)
	}

	p.logger.Info("pipeline: draft complete", "decision_id", d.ID, "matches", len(matches))
	return nil
}

// parseRawInput extracts the structured fields, falling back to a truncated
// raw input as the title when the model output does not decode.
func (p *Pipeline) parseRawInput(ctx context.Context, rawInput string) parsedFields {
	raw, err := p.llm.Complete(ctx, parseSystemPrompt, rawInput)
	if err != nil {
		p.logger.Warn("pipeline: parse completion failed", "error", err)
		return parseFallback(rawInput)
	}
	result := reasoner.DecodeJSON[parsedFields](raw)
	if result.Err() != nil {
		p.logger.Warn("pipeline: parse decode failed", "error", result.Err())
	}
	return result.OrElse(parseFallback(rawInput))
}

func parseFallback(rawInput string) parsedFields {
	r := []rune(rawInput)
	if len(r) > 200 {
		r = r[:200]
	}
	return parsedFields{What: string(r)}
}

// draftPlan asks the advisor for an insight and plan. A decode failure
// yields a single manual-review step rather than a job failure, since the
// parse results and matches are already worth persisting.
func (p *Pipeline) draftPlan(ctx context.Context, parsed parsedFields, matches []model.SimilarMatch) draftOutput {
	user := fmt.Sprintf(`NEW DECISION THE USER WANTS TO MAKE:
Decision: %s
Context: %s
Expected Output: %s
Rationale: %s%s`,
		parsed.What, parsed.Context, parsed.ExpectedOutput, parsed.Rationale,
		buildGroundingBlock(matches),
	)

	fallback := draftOutput{
		Insight: "I had trouble analyzing this decision. Please review the plan manually.",
		Plan: []model.PlanStep{
			{StepID: uuid.NewString(), Desc: "Review and plan manually", Status: model.StepPending},
		},
	}

	raw, err := p.llm.Complete(ctx, advisorSystemPrompt, user)
	if err != nil {
		p.logger.Warn("pipeline: draft completion failed", "error", err)
		return fallback
	}

	result := reasoner.DecodeJSON[draftOutput](raw)
	if result.Err() != nil {
		p.logger.Warn("pipeline: draft decode failed", "error", result.Err())
	}
	draft := result.OrElse(fallback)

	// The model does not always honor the step_id/status instructions.
	for i := range draft.Plan {
		if draft.Plan[i].StepID == "" {
			draft.Plan[i].StepID = uuid.NewString()
		}
		if draft.Plan[i].Status == "" {
			draft.Plan[i].Status = model.StepPending
		}
	}
	if len(draft.Plan) == 0 {
		draft.Plan = fallback.Plan
	}
	return draft
}

// ExtractAndEmbed analyzes the completion reflection, rebuilds the search
// text, and stores the decision's embedding in the vector index.
func (p *Pipeline) ExtractAndEmbed(ctx context.Context, payload model.JobPayload) error {
	ctx, span := telemetry.Tracer("kiroku/pipeline").Start(ctx, "pipeline.extract_and_embed")
	defer span.End()

	d, err := p.db.GetDecision(ctx, payload.DecisionID)
	if err != nil {
		return fmt.Errorf("pipeline: extract: %w", err)
	}

	insights, err := p.extractInsights(ctx, d)
	if err != nil {
		return fmt.Errorf("pipeline: extract: %w", err)
	}
	if err := p.db.UpdateInsights(ctx, d.ID, insights.SuccessDriver, insights.FailureReason); err != nil {
		return fmt.Errorf("pipeline: extract: %w", err)
	}

	searchText := search.BuildSearchText(search.SearchTextFields{
		What:          deref(d.What),
		RawInput:      d.RawInput,
		Context:       deref(d.Context),
		Rationale:     deref(d.Rationale),
		ExpectedOut:   deref(d.ExpectedOutput),
		Outcome:       outcomeString(d.Outcome),
		Reflection:    deref(d.Reflection),
		SuccessDriver: insights.SuccessDriver,
		FailureReason: insights.FailureReason,
	})
	if err := p.db.UpdateSearchText(ctx, d.ID, searchText); err != nil {
		return fmt.Errorf("pipeline: extract: %w", err)
	}

	// Vector write failures are non-fatal: the decision is still findable
	// through its lexical search text, and the next completion re-embeds.
	if err := p.storeEmbedding(ctx, d, searchText); err != nil {
		p.embedFailures.Add(ctx, 1)
		p.logger.Warn("pipeline: embedding upsert failed", "decision_id", d.ID, "error", err)
	}

	if err := p.db.NotifyDecisionUpdated(ctx, d.ID); err != nil {
		p.logger.Warn("pipeline: notify failed", "decision_id", d.ID, "error", err)
	}

	p.logger.Info("pipeline: extract complete", "decision_id", d.ID)
	return nil
}

// extractInsights runs the reflection analysis. An undecodable completion
// is recovered with the vague-reflection sentinel rather than retried, so
// a model that persistently ignores JSON mode cannot dead-letter the job.
// Missing fields collapse to the same sentinel.
func (p *Pipeline) extractInsights(ctx context.Context, d model.Decision) (extractedInsights, error) {
	title := deref(d.What)
	if title == "" {
		title = d.RawInput
	}
	user := fmt.Sprintf("Objective: %s\nOutcome: %s\nReflection: %s",
		title, outcomeString(d.Outcome), deref(d.Reflection))

	raw, err := p.llm.Complete(ctx, reflectionSystemPrompt, user)
	if err != nil {
		return extractedInsights{}, err
	}
	result := reasoner.DecodeJSON[extractedInsights](raw)
	if err := result.Err(); err != nil {
		p.logger.Warn("pipeline: reflection analysis undecodable, using defaults",
			"decision_id", d.ID, "error", err)
	}
	insights := result.OrElse(extractedInsights{
		SuccessDriver: model.NoClearPattern,
		FailureReason: model.NoClearPattern,
	})

	if insights.SuccessDriver == "" {
		insights.SuccessDriver = model.NoClearPattern
	}
	if insights.FailureReason == "" {
		insights.FailureReason = model.NoClearPattern
	}
	return insights, nil
}

func (p *Pipeline) storeEmbedding(ctx context.Context, d model.Decision, searchText string) error {
	vec, err := p.embedder.Embed(ctx, searchText)
	if err != nil {
		return err
	}
	if err := p.db.UpsertEmbedding(ctx, d.ID, d.OwnerID, vec, ContentHash(searchText)); err != nil {
		return err
	}
	p.logger.Info("pipeline: stored embedding",
		"decision_id", d.ID,
		"dimensions", p.embedder.Dimensions(),
	)
	return nil
}

// ContentHash returns the hex SHA-256 of the embedded text, stored next to
// the vector so unchanged content can be detected.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func outcomeString(o *model.Outcome) string {
	if o == nil {
		return ""
	}
	return string(*o)
}
