package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/kirokuhq/kiroku/internal/model"
)

// Hybrid ranking parameters. Cosine similarity below the floor is a hard
// gate, not a ranking penalty; the weights only affect ordering among
// candidates that passed the gate.
const (
	MinCosineSimilarity = 0.35
	vectorWeight        = 0.7
	lexicalWeight       = 0.3

	// Candidates fetched from the vector index before the relational join,
	// as a multiple of the requested limit. Oversampling keeps the cheap
	// ANN scan ahead of the more selective status/deletion filter.
	oversampleFactor = 4
)

// Neighbor is a raw vector-store query result.
type Neighbor struct {
	DecisionID uuid.UUID
	Similarity float32
}

// UpsertEmbedding inserts or replaces the embedding for a decision.
// Keyed by decision id, so re-running the embed stage never duplicates.
func (db *DB) UpsertEmbedding(ctx context.Context, decisionID, ownerID uuid.UUID, vec pgvector.Vector, contentHash string) error {
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO decision_embeddings (decision_id, owner_id, vector, content_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (decision_id)
		 DO UPDATE SET vector = $3, content_hash = $4, owner_id = $2`,
		decisionID, ownerID, vec, contentHash,
	); err != nil {
		return fmt.Errorf("storage: upsert embedding: %w", err)
	}
	return nil
}

// DeleteEmbedding removes a decision's embedding, if any.
func (db *DB) DeleteEmbedding(ctx context.Context, decisionID uuid.UUID) error {
	if _, err := db.pool.Exec(ctx,
		`DELETE FROM decision_embeddings WHERE decision_id = $1`, decisionID,
	); err != nil {
		return fmt.Errorf("storage: delete embedding: %w", err)
	}
	return nil
}

// CountEmbeddings returns the number of embedding rows for a decision.
// 0 or 1 by schema; exists for upsert-idempotence checks.
func (db *DB) CountEmbeddings(ctx context.Context, decisionID uuid.UUID) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM decision_embeddings WHERE decision_id = $1`, decisionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count embeddings: %w", err)
	}
	return n, nil
}

// NearestNeighbors returns decisions ordered by cosine similarity to vec,
// scoped to an owner, with an optional exclusion and a similarity floor.
// Vectors are stored normalized, so 1 - (a <=> b) is cosine similarity.
func (db *DB) NearestNeighbors(ctx context.Context, vec pgvector.Vector, ownerID uuid.UUID, excludeID *uuid.UUID, limit int, minSimilarity float32) ([]Neighbor, error) {
	if limit <= 0 {
		limit = 3
	}

	sql := `SELECT decision_id, (1.0 - (vector <=> $1))::float4 AS similarity
		 FROM decision_embeddings
		 WHERE owner_id = $2
		   AND (1.0 - (vector <=> $1)) >= $3`
	args := []any{vec, ownerID, minSimilarity}

	if excludeID != nil {
		sql += fmt.Sprintf(" AND decision_id <> $%d", len(args)+1)
		args = append(args, *excludeID)
	}
	sql += fmt.Sprintf(" ORDER BY vector <=> $1 ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: nearest neighbors: %w", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.DecisionID, &n.Similarity); err != nil {
			return nil, fmt.Errorf("storage: scan neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, rows.Err()
}

// SearchHybrid runs the two-stage retrieval query: an oversampled ANN scan
// over the owner's embeddings, joined against completed, non-deleted
// decisions, gated at the cosine floor, then ordered by the blended
// vector+trigram score. The similarity returned to callers is the raw
// cosine value; the hybrid score exists only to order results.
func (db *DB) SearchHybrid(ctx context.Context, vec pgvector.Vector, queryText string, ownerID uuid.UUID, excludeID *uuid.UUID, limit int) ([]model.SimilarMatch, error) {
	if limit <= 0 {
		limit = 5
	}

	args := []any{vec, ownerID, MinCosineSimilarity, queryText, float32(vectorWeight), float32(lexicalWeight)}

	excludeClause := ""
	if excludeID != nil {
		excludeClause = fmt.Sprintf("AND d.id <> $%d", len(args)+1)
		args = append(args, *excludeID)
	}
	limitIdx := len(args) + 1
	args = append(args, limit)

	sql := fmt.Sprintf(`
		WITH vector_matches AS (
		    SELECT e.decision_id,
		           (1.0 - (e.vector <=> $1))::float4 AS cosine_sim
		    FROM decision_embeddings e
		    WHERE e.owner_id = $2
		    ORDER BY e.vector <=> $1 ASC
		    LIMIT $%d * %d
		)
		SELECT d.id, vm.cosine_sim,
		       d.what, d.raw_input, d.context, d.expected_output, d.decision_rationale,
		       d.outcome, d.reflection, d.success_driver, d.failure_reason,
		       d.plan, d.completed_at
		FROM vector_matches vm
		JOIN decisions d ON d.id = vm.decision_id
		WHERE d.status = 'COMPLETED'
		  AND NOT d.is_deleted
		  AND vm.cosine_sim >= $3
		  %s
		ORDER BY ($5 * vm.cosine_sim + $6 * COALESCE(similarity(d.search_text, $4), 0)) DESC
		LIMIT $%d`,
		limitIdx, oversampleFactor, excludeClause, limitIdx,
	)

	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: hybrid search: %w", err)
	}
	defer rows.Close()

	var matches []model.SimilarMatch
	for rows.Next() {
		var m model.SimilarMatch
		var plan []model.PlanStep
		if err := rows.Scan(
			&m.DecisionID, &m.Similarity,
			&m.What, &m.RawInput, &m.Context, &m.ExpectedOutput, &m.Rationale,
			&m.Outcome, &m.Reflection, &m.SuccessDriver, &m.FailureReason,
			&plan, &m.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan match: %w", err)
		}
		m.PlanSummary = model.SummarizePlan(plan)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
