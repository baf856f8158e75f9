package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kirokuhq/kiroku/internal/model"
)

const decisionColumns = `id, owner_id, status, raw_input, what, context, expected_output,
	 decision_rationale, insight, plan, outcome, reflection, success_driver, failure_reason,
	 similar_matches, search_text, is_deleted, created_at, completed_at, updated_at`

// CreateDecision inserts a new decision in PLANNING with the given raw input.
func (db *DB) CreateDecision(ctx context.Context, ownerID uuid.UUID, rawInput string) (model.Decision, error) {
	var d model.Decision
	err := db.pool.QueryRow(ctx,
		`INSERT INTO decisions (owner_id, raw_input)
		 VALUES ($1, $2)
		 RETURNING `+decisionColumns,
		ownerID, rawInput,
	).Scan(decisionFields(&d)...)
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: create decision: %w", err)
	}
	return d, nil
}

// GetDecision retrieves a decision by id. Soft-deleted rows are invisible.
func (db *DB) GetDecision(ctx context.Context, id uuid.UUID) (model.Decision, error) {
	var d model.Decision
	err := db.pool.QueryRow(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1 AND NOT is_deleted`, id,
	).Scan(decisionFields(&d)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Decision{}, fmt.Errorf("storage: decision %s: %w", id, ErrNotFound)
		}
		return model.Decision{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return d, nil
}

// ListDecisionsByOwner returns an owner's decisions, newest first.
func (db *DB) ListDecisionsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE owner_id = $1 AND NOT is_deleted
		 ORDER BY created_at DESC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []model.Decision
	for rows.Next() {
		var d model.Decision
		if err := rows.Scan(decisionFields(&d)...); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// ConfirmPlan stores the user-confirmed plan and moves the decision from
// PLANNING to ACTIVE. Rejected if the decision is in any other status.
func (db *DB) ConfirmPlan(ctx context.Context, id uuid.UUID, plan []model.PlanStep) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE decisions
		 SET plan = $1, status = $2, updated_at = now()
		 WHERE id = $3 AND NOT is_deleted AND status = $4`,
		plan, model.StatusActive, id, model.StatusPlanning,
	)
	if err != nil {
		return fmt.Errorf("storage: confirm plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: confirm plan for %s: %w", id, ErrInvalidState)
	}
	return nil
}

// UpdatePlan replaces the plan. Plan steps only mutate while the decision
// is PLANNING or ACTIVE; a COMPLETED plan is frozen.
func (db *DB) UpdatePlan(ctx context.Context, id uuid.UUID, plan []model.PlanStep) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE decisions
		 SET plan = $1, updated_at = now()
		 WHERE id = $2 AND NOT is_deleted AND status IN ($3, $4)`,
		plan, id, model.StatusPlanning, model.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("storage: update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: update plan for %s: %w", id, ErrInvalidState)
	}
	return nil
}

// CompleteDecision marks the decision COMPLETED with an outcome and
// reflection. clearPlan discards the plan (fast-track completion of a
// decision that never went through drafting or execution).
func (db *DB) CompleteDecision(ctx context.Context, id uuid.UUID, outcome model.Outcome, reflection string, clearPlan bool) error {
	sql := `UPDATE decisions
		 SET status = $1, outcome = $2, reflection = $3,
		     completed_at = now(), updated_at = now()
		 WHERE id = $4 AND NOT is_deleted`
	if clearPlan {
		sql = `UPDATE decisions
		 SET status = $1, outcome = $2, reflection = $3, plan = '[]'::jsonb,
		     completed_at = now(), updated_at = now()
		 WHERE id = $4 AND NOT is_deleted`
	}
	tag, err := db.pool.Exec(ctx, sql, model.StatusCompleted, outcome, reflection, id)
	if err != nil {
		return fmt.Errorf("storage: complete decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: complete decision %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateDraftResults persists the output of the draft stage. Structured
// fields use COALESCE so a re-run with a partial parse never nulls out a
// previously drafted value; plan and matches are overwritten wholesale,
// which is what makes the handler idempotent under at-least-once delivery.
func (db *DB) UpdateDraftResults(
	ctx context.Context,
	id uuid.UUID,
	plan []model.PlanStep,
	matches []model.SimilarMatch,
	what, context, expectedOutput, rationale, insight *string,
) error {
	if matches == nil {
		matches = []model.SimilarMatch{}
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE decisions
		 SET plan = $1,
		     similar_matches = $2,
		     what = COALESCE($3, what),
		     context = COALESCE($4, context),
		     expected_output = COALESCE($5, expected_output),
		     decision_rationale = COALESCE($6, decision_rationale),
		     insight = COALESCE($7, insight),
		     updated_at = now()
		 WHERE id = $8 AND NOT is_deleted`,
		plan, matches, what, context, expectedOutput, rationale, insight, id,
	)
	if err != nil {
		return fmt.Errorf("storage: update draft results: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: update draft results for %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateInsights stores the extracted success driver and failure reason.
func (db *DB) UpdateInsights(ctx context.Context, id uuid.UUID, successDriver, failureReason string) error {
	if _, err := db.pool.Exec(ctx,
		`UPDATE decisions
		 SET success_driver = $1, failure_reason = $2, updated_at = now()
		 WHERE id = $3 AND NOT is_deleted`,
		successDriver, failureReason, id,
	); err != nil {
		return fmt.Errorf("storage: update insights: %w", err)
	}
	return nil
}

// UpdateSearchText stores the consolidated lexical-search text.
func (db *DB) UpdateSearchText(ctx context.Context, id uuid.UUID, searchText string) error {
	if _, err := db.pool.Exec(ctx,
		`UPDATE decisions SET search_text = $1, updated_at = now()
		 WHERE id = $2 AND NOT is_deleted`,
		searchText, id,
	); err != nil {
		return fmt.Errorf("storage: update search text: %w", err)
	}
	return nil
}

// SoftDeleteDecision marks a decision deleted and removes its embedding in
// the same transaction, so the retrieval index can never serve a deleted
// decision. The cascade is explicit here rather than delegated to a
// database trigger. The embed stage upserts into decision_embeddings
// concurrently, so the transaction is retried on deadlock.
func (db *DB) SoftDeleteDecision(ctx context.Context, id uuid.UUID) error {
	return WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.softDeleteDecision(ctx, id)
	})
}

func (db *DB) softDeleteDecision(ctx context.Context, id uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE decisions SET is_deleted = true, updated_at = now()
		 WHERE id = $1 AND NOT is_deleted`, id,
	)
	if err != nil {
		return fmt.Errorf("storage: soft delete decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: soft delete decision %s: %w", id, ErrNotFound)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM decision_embeddings WHERE decision_id = $1`, id,
	); err != nil {
		return fmt.Errorf("storage: delete embedding for %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit delete tx: %w", err)
	}
	return nil
}

func decisionFields(d *model.Decision) []any {
	return []any{
		&d.ID, &d.OwnerID, &d.Status, &d.RawInput, &d.What, &d.Context, &d.ExpectedOutput,
		&d.Rationale, &d.Insight, &d.Plan, &d.Outcome, &d.Reflection, &d.SuccessDriver,
		&d.FailureReason, &d.SimilarMatches, &d.SearchText, &d.IsDeleted,
		&d.CreatedAt, &d.CompletedAt, &d.UpdatedAt,
	}
}
