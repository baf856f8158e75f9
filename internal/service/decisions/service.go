// Package decisions provides the shared business logic for decision
// operations: creation, plan confirmation and edits, completion, and
// deletion. HTTP handlers delegate here, so validation, job enqueueing and
// notification behave the same regardless of the calling surface.
package decisions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/reasoner"
	"github.com/kirokuhq/kiroku/internal/storage"
	"github.com/kirokuhq/kiroku/internal/telemetry"
)

// Validation failures the caller can map to a 4xx response.
var (
	ErrEmptyInput     = errors.New("decisions: raw_input is required")
	ErrEmptyPlan      = errors.New("decisions: plan must have at least one step")
	ErrInvalidOutcome = errors.New("decisions: outcome must be SUCCESS, PARTIAL, or FAILURE")
	ErrPendingSteps   = errors.New("decisions: plan has pending steps")
)

// Service encapsulates decision business logic.
type Service struct {
	db     *storage.DB
	llm    reasoner.Client
	logger *slog.Logger

	created metric.Int64Counter
}

// New creates a decision Service. llm may be nil when the plan-chat
// operation is not needed (the worker binary, for instance).
func New(db *storage.DB, llm reasoner.Client, logger *slog.Logger) *Service {
	meter := telemetry.Meter("kiroku/decisions")
	created, _ := meter.Int64Counter("kiroku.decisions.created",
		metric.WithDescription("Decisions created"),
	)
	return &Service{
		db:      db,
		llm:     llm,
		logger:  logger,
		created: created,
	}
}

// Create logs a new decision and enqueues the draft stage. The decision is
// returned immediately in PLANNING; the structured fields, matches and
// draft plan arrive asynchronously.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, rawInput string) (model.Decision, error) {
	rawInput = strings.TrimSpace(rawInput)
	if rawInput == "" {
		return model.Decision{}, ErrEmptyInput
	}

	d, err := s.db.CreateDecision(ctx, ownerID, rawInput)
	if err != nil {
		return model.Decision{}, fmt.Errorf("decisions: create: %w", err)
	}

	if _, err := s.db.EnqueueJob(ctx, model.JobDraftAndSearch, model.JobPayload{DecisionID: d.ID}); err != nil {
		return model.Decision{}, fmt.Errorf("decisions: enqueue draft: %w", err)
	}

	s.created.Add(ctx, 1)
	s.logger.Info("decisions: created", "decision_id", d.ID, "owner_id", ownerID)
	return d, nil
}

// Get fetches a decision by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Decision, error) {
	return s.db.GetDecision(ctx, id)
}

// List returns an owner's decisions, newest first.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]model.Decision, error) {
	return s.db.ListDecisionsByOwner(ctx, ownerID)
}

// ConfirmPlan accepts the drafted plan (possibly edited) and activates the
// decision. Only valid from PLANNING.
func (s *Service) ConfirmPlan(ctx context.Context, id uuid.UUID, plan []model.PlanStep) error {
	if len(plan) == 0 {
		return ErrEmptyPlan
	}
	if err := s.db.ConfirmPlan(ctx, id, plan); err != nil {
		return err
	}
	s.notify(ctx, id)
	return nil
}

// UpdatePlan replaces the plan of a PLANNING or ACTIVE decision.
func (s *Service) UpdatePlan(ctx context.Context, id uuid.UUID, plan []model.PlanStep) error {
	if len(plan) == 0 {
		return ErrEmptyPlan
	}
	if err := s.db.UpdatePlan(ctx, id, plan); err != nil {
		return err
	}
	s.notify(ctx, id)
	return nil
}

// Complete finishes an executed decision: every plan step must be resolved
// (done or skipped), the outcome must be valid. Enqueues the extract stage
// so insights and the embedding are derived from the reflection.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, outcome string, reflection string) error {
	if !model.ValidOutcome(outcome) {
		return fmt.Errorf("%w: got %q", ErrInvalidOutcome, outcome)
	}

	d, err := s.db.GetDecision(ctx, id)
	if err != nil {
		return err
	}
	pending := 0
	for _, step := range d.Plan {
		if step.Status == model.StepPending {
			pending++
		}
	}
	if pending > 0 {
		return fmt.Errorf("%w: %d still pending", ErrPendingSteps, pending)
	}

	if err := s.db.CompleteDecision(ctx, id, model.Outcome(outcome), reflection, false); err != nil {
		return err
	}
	if _, err := s.db.EnqueueJob(ctx, model.JobExtractAndEmbed, model.JobPayload{DecisionID: id}); err != nil {
		return fmt.Errorf("decisions: enqueue extract: %w", err)
	}
	s.notify(ctx, id)
	return nil
}

// FastTrackComplete records the outcome of a decision that was made and
// acted on entirely outside the app: the plan is discarded and no
// pending-step check applies. Still feeds the memory through the extract
// stage.
func (s *Service) FastTrackComplete(ctx context.Context, id uuid.UUID, outcome string, reflection string) error {
	if !model.ValidOutcome(outcome) {
		return fmt.Errorf("%w: got %q", ErrInvalidOutcome, outcome)
	}
	if _, err := s.db.GetDecision(ctx, id); err != nil {
		return err
	}

	if err := s.db.CompleteDecision(ctx, id, model.Outcome(outcome), reflection, true); err != nil {
		return err
	}
	if _, err := s.db.EnqueueJob(ctx, model.JobExtractAndEmbed, model.JobPayload{DecisionID: id}); err != nil {
		return fmt.Errorf("decisions: enqueue extract: %w", err)
	}
	s.notify(ctx, id)
	return nil
}

// Delete soft-deletes a decision and removes its vector in one transaction.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.SoftDeleteDecision(ctx, id)
}

// notify publishes a decision-update event. Non-fatal: the write already
// committed, subscribers will catch up on their next fetch.
func (s *Service) notify(ctx context.Context, id uuid.UUID) {
	if err := s.db.NotifyDecisionUpdated(ctx, id); err != nil {
		s.logger.Warn("decisions: notify failed", "decision_id", id, "error", err)
	}
}
