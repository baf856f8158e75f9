package embedding

import (
	"context"
	"log/slog"

	"github.com/pgvector/pgvector-go"
)

// FallbackProvider derives a pseudo-random unit vector from a rolling hash
// of the text. The output carries no semantic meaning (two paraphrases
// land nowhere near each other) but it is deterministic and unit length,
// which keeps the pipeline moving when no real backend is reachable.
type FallbackProvider struct {
	dims int
}

// NewFallbackProvider creates a deterministic hash-based provider.
func NewFallbackProvider(dims int) *FallbackProvider {
	if dims <= 0 {
		dims = Dimensions
	}
	return &FallbackProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *FallbackProvider) Dimensions() int {
	return p.dims
}

// Embed returns the hash-derived vector for text. Never fails.
func (p *FallbackProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	var hash uint32
	for _, b := range []byte(text) {
		hash = (hash*31 + uint32(b)) & 0x7fffffff
	}

	vec := make([]float32, p.dims)
	for i := range vec {
		// Linear congruential step seeded by the rolling hash.
		hash = (hash*1103515245 + 12345) & 0x7fffffff
		vec[i] = float32(hash)/float32(0x7fffffff)*2 - 1
	}
	return pgvector.NewVector(normalize(vec)), nil
}

// EmbedBatch computes hash vectors for each text.
func (p *FallbackProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		v, _ := p.Embed(ctx, t)
		vecs[i] = v
	}
	return vecs, nil
}

// DegradingProvider tries a primary backend and falls back to a
// deterministic hash vector when it errors. The degradation is logged,
// never surfaced as an error: a meaningless-but-valid vector beats a
// blocked pipeline.
type DegradingProvider struct {
	primary  Provider
	fallback Provider
	logger   *slog.Logger
}

// WithFallback wraps primary so that backend failures degrade to the
// deterministic fallback instead of erroring.
func WithFallback(primary Provider, logger *slog.Logger) *DegradingProvider {
	return &DegradingProvider{
		primary:  primary,
		fallback: NewFallbackProvider(primary.Dimensions()),
		logger:   logger,
	}
}

// Dimensions returns the primary's vector size.
func (p *DegradingProvider) Dimensions() int {
	return p.primary.Dimensions()
}

// Embed returns the primary's embedding, or the fallback vector on error.
func (p *DegradingProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := p.primary.Embed(ctx, text)
	if err != nil {
		p.logger.Warn("embedding: primary backend unavailable, using hash fallback", "error", err)
		return p.fallback.Embed(ctx, text)
	}
	return vec, nil
}

// EmbedBatch returns the primary's embeddings, or fallback vectors on error.
func (p *DegradingProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs, err := p.primary.EmbedBatch(ctx, texts)
	if err != nil {
		p.logger.Warn("embedding: primary backend unavailable, using hash fallback", "error", err, "count", len(texts))
		return p.fallback.EmbedBatch(ctx, texts)
	}
	return vecs, nil
}
