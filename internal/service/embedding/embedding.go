// Package embedding generates the normalized vectors behind semantic
// search. A Provider interface fronts the OpenAI, Ollama, deterministic
// fallback, and noop backends; NewCached and WithFallback wrap any of them.
package embedding

import (
	"context"
	"math"

	"github.com/pgvector/pgvector-go"
)

// Dimensions is the vector size used across the system. The schema's
// vector(384) column and the MiniLM-class models both use it; every
// provider must emit exactly this many components.
const Dimensions = 384

// Provider generates vector embeddings from text. Output must be unit
// length and deterministic: identical text yields an identical vector.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// normalize scales v to unit length in place and returns it. Zero vectors
// pass through unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	mag := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= mag
	}
	return v
}

// NoopProvider returns zero vectors, for deployments that run without
// semantic search entirely.
type NoopProvider struct {
	dims int
}

// NewNoopProvider creates a provider that returns zero vectors.
func NewNoopProvider(dims int) *NoopProvider {
	return &NoopProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *NoopProvider) Dimensions() int {
	return p.dims
}

// Embed returns a zero vector.
func (p *NoopProvider) Embed(_ context.Context, _ string) (pgvector.Vector, error) {
	return pgvector.NewVector(make([]float32, p.dims)), nil
}

// EmbedBatch returns zero vectors.
func (p *NoopProvider) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i := range vecs {
		vecs[i] = pgvector.NewVector(make([]float32, p.dims))
	}
	return vecs, nil
}
