package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewareLimitsPerKey(t *testing.T) {
	m := NewMemoryLimiter(1, 2)
	defer closeLimiter(t, m)

	h := Middleware(m, func(r *http.Request) string {
		return r.Header.Get("X-User-Id")
	})(okHandler())

	get := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)
		req.Header.Set("X-User-Id", user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := get("alice"); got != http.StatusNoContent {
		t.Fatalf("request 1: expected 204, got %d", got)
	}
	if got := get("alice"); got != http.StatusNoContent {
		t.Fatalf("request 2: expected 204, got %d", got)
	}
	if got := get("alice"); got != http.StatusTooManyRequests {
		t.Fatalf("request 3: expected 429, got %d", got)
	}
	// A different caller has their own bucket.
	if got := get("bob"); got != http.StatusNoContent {
		t.Fatalf("other caller: expected 204, got %d", got)
	}
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer closeLimiter(t, m)

	h := Middleware(m, func(r *http.Request) string { return "" })(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, rec.Code)
		}
	}
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	h := Middleware(nil, func(r *http.Request) string { return "k" })(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
