package embedding

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/kirokuhq/kiroku/internal/telemetry"
)

// DefaultCacheSize bounds the in-process embedding cache. The cache is a
// latency optimization only; it is process-local and never a correctness
// dependency.
const DefaultCacheSize = 256

// CachedProvider wraps a Provider with a bounded LRU cache keyed by exact
// text. Concurrent misses for the same text are collapsed into a single
// backend call via singleflight.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, pgvector.Vector]
	group singleflight.Group

	latency metric.Float64Histogram
}

// NewCached wraps inner with an LRU cache of the given size.
func NewCached(inner Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, pgvector.Vector](size)
	if err != nil {
		return nil, fmt.Errorf("embedding: create cache: %w", err)
	}
	meter := telemetry.Meter("kiroku/embedding")
	latency, _ := meter.Float64Histogram("kiroku.embedding.duration",
		metric.WithDescription("Backend embedding call latency on cache misses"),
		metric.WithUnit("ms"),
	)
	return &CachedProvider{inner: inner, cache: cache, latency: latency}, nil
}

// Dimensions returns the inner provider's vector size.
func (p *CachedProvider) Dimensions() int {
	return p.inner.Dimensions()
}

// Embed returns the cached vector for text, computing and caching on miss.
func (p *CachedProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	if vec, ok := p.cache.Get(text); ok {
		return vec, nil
	}

	v, err, _ := p.group.Do(text, func() (any, error) {
		start := time.Now()
		vec, err := p.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		p.latency.Record(ctx, float64(time.Since(start).Milliseconds()))
		p.cache.Add(text, vec)
		return vec, nil
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return v.(pgvector.Vector), nil
}

// EmbedBatch reuses the cache per item and only sends misses to the
// backend. Result order matches the input order.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs := make([]pgvector.Vector, len(texts))
	var missTexts []string
	var missIdx []int
	for i, t := range texts {
		if vec, ok := p.cache.Get(t); ok {
			vecs[i] = vec
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return vecs, nil
	}

	start := time.Now()
	computed, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	p.latency.Record(ctx, float64(time.Since(start).Milliseconds()))
	if len(computed) != len(missTexts) {
		return nil, fmt.Errorf("embedding: batch returned %d vectors for %d texts", len(computed), len(missTexts))
	}
	for i, vec := range computed {
		p.cache.Add(missTexts[i], vec)
		vecs[missIdx[i]] = vec
	}
	return vecs, nil
}
