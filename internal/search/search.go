// Package search implements the hybrid retrieval engine over the pgvector
// store: an ANN scan blended with trigram similarity on the decisions'
// search text.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/service/embedding"
	"github.com/kirokuhq/kiroku/internal/storage"
	"github.com/kirokuhq/kiroku/internal/telemetry"
)

// DefaultLimit is used when callers pass a non-positive result limit.
const DefaultLimit = 5

// Engine retrieves past decisions similar to a query text.
// Safe for concurrent use.
type Engine struct {
	db       *storage.DB
	embedder embedding.Provider
	logger   *slog.Logger

	latency metric.Float64Histogram
}

// NewEngine creates a retrieval engine over the given store and embedder.
func NewEngine(db *storage.DB, embedder embedding.Provider, logger *slog.Logger) *Engine {
	meter := telemetry.Meter("kiroku/search")
	latency, _ := meter.Float64Histogram("kiroku.search.duration",
		metric.WithDescription("Hybrid retrieval latency including query embedding"),
		metric.WithUnit("ms"),
	)
	return &Engine{
		db:       db,
		embedder: embedder,
		logger:   logger,
		latency:  latency,
	}
}

// FindSimilar embeds queryText and runs the hybrid search scoped to ownerID.
// excludeID, when non-nil, removes the decision being drafted from its own
// results. A blank query returns no matches rather than an error.
func (e *Engine) FindSimilar(ctx context.Context, queryText string, ownerID uuid.UUID, excludeID *uuid.UUID, limit int) ([]model.SimilarMatch, error) {
	text := strings.TrimSpace(queryText)
	if text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	start := time.Now()
	defer func() {
		e.latency.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	matches, err := e.db.SearchHybrid(ctx, vec, text, ownerID, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("search: find similar: %w", err)
	}

	if len(matches) > 0 {
		e.logger.Debug("search: retrieved similar decisions",
			"owner_id", ownerID,
			"matches", len(matches),
			"top_similarity", matches[0].Similarity,
		)
	}
	return matches, nil
}
