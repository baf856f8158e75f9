package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func closeLimiter(t *testing.T, m *MemoryLimiter) {
	t.Helper()
	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

func allow(t *testing.T, m *MemoryLimiter, key string) bool {
	t.Helper()
	ok, err := m.Allow(context.Background(), key)
	if err != nil {
		t.Fatalf("Allow(%q) error: %v", key, err)
	}
	return ok
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m := NewMemoryLimiter(10, 3)
	defer closeLimiter(t, m)

	const key = "owner:8a8e4cf8-3f0a-4b42-9f05-59a9e1d2b0aa"
	for i := range 3 {
		if !allow(t, m, key) {
			t.Fatalf("request %d should be within the burst", i)
		}
	}
	if allow(t, m, key) {
		t.Fatal("request past the burst should be denied")
	}
}

func TestMemoryLimiterRefill(t *testing.T) {
	// 1000 rps refills one token per millisecond, so a short sleep after
	// exhausting burst 2 makes the next request pass again.
	m := NewMemoryLimiter(1000, 2)
	defer closeLimiter(t, m)

	allow(t, m, "owner:a")
	allow(t, m, "owner:a")
	if allow(t, m, "owner:a") {
		t.Fatal("burst exhausted, expected a denial")
	}

	time.Sleep(5 * time.Millisecond)

	if !allow(t, m, "owner:a") {
		t.Fatal("expected a token back after the refill interval")
	}
}

func TestMemoryLimiterOwnersDoNotShareBuckets(t *testing.T) {
	m := NewMemoryLimiter(10, 1)
	defer closeLimiter(t, m)

	if !allow(t, m, "owner:a") {
		t.Fatal("owner a's first request should pass")
	}
	if allow(t, m, "owner:a") {
		t.Fatal("owner a's second request should be denied")
	}
	if !allow(t, m, "owner:b") {
		t.Fatal("owner b must not be throttled by owner a's traffic")
	}
}

func TestMemoryLimiterConcurrentSameKey(t *testing.T) {
	m := NewMemoryLimiter(100, 50)
	defer closeLimiter(t, m)

	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				ok, err := m.Allow(ctx, "owner:shared")
				if err != nil {
					t.Errorf("Allow error: %v", err)
					return
				}
				if ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// 100 requests inside one burst window: never more than the burst of
	// 50 may pass, and at least one must.
	if allowed < 1 || allowed > 50 {
		t.Fatalf("allowed %d requests, want between 1 and 50", allowed)
	}
}

func TestMemoryLimiterRefillCapsAtBurst(t *testing.T) {
	m := NewMemoryLimiter(1000, 3)
	defer closeLimiter(t, m)

	allow(t, m, "owner:idle")

	// Backdate the bucket so the computed refill would be enormous.
	m.mu.Lock()
	m.buckets["owner:idle"].lastAccess = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	for i := range 3 {
		if !allow(t, m, "owner:idle") {
			t.Fatalf("request %d after long idle should pass", i)
		}
	}
	if allow(t, m, "owner:idle") {
		t.Fatal("refill must cap at the burst size")
	}
}

func TestMemoryLimiterEviction(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	defer closeLimiter(t, m)

	allow(t, m, "owner:stale")
	allow(t, m, "owner:recent")

	m.mu.Lock()
	m.buckets["owner:stale"].lastAccess = time.Now().Add(-15 * time.Minute)
	m.mu.Unlock()

	m.evictStale()

	m.mu.Lock()
	_, staleExists := m.buckets["owner:stale"]
	_, recentExists := m.buckets["owner:recent"]
	m.mu.Unlock()

	if staleExists {
		t.Error("stale bucket should have been evicted")
	}
	if !recentExists {
		t.Error("recently used bucket should survive eviction")
	}
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	if err := m.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	for range 100 {
		ok, err := l.Allow(context.Background(), "anything")
		if err != nil || !ok {
			t.Fatalf("NoopLimiter.Allow = (%v, %v), want (true, nil)", ok, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("NoopLimiter.Close error: %v", err)
	}
}
