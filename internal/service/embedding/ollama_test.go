package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaProvider(t *testing.T) {
	// Mock Ollama server returning a 384-dim embedding.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		vec := make([]float32, Dimensions)
		for i := range vec {
			vec[i] = float32(i + 1)
		}
		if err := json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: vec}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer server.Close()

	t.Run("dimensions", func(t *testing.T) {
		p := NewOllamaProvider(server.URL, "all-minilm", Dimensions)
		if p.Dimensions() != Dimensions {
			t.Errorf("expected %d, got %d", Dimensions, p.Dimensions())
		}
	})

	t.Run("embed single normalizes", func(t *testing.T) {
		p := NewOllamaProvider(server.URL, "all-minilm", Dimensions)
		vec, err := p.Embed(context.Background(), "test text")
		if err != nil {
			t.Fatal(err)
		}
		slice := vec.Slice()
		if len(slice) != Dimensions {
			t.Errorf("expected %d-dim vector, got %d", Dimensions, len(slice))
		}
		var sum float64
		for _, x := range slice {
			sum += float64(x) * float64(x)
		}
		if math.Abs(math.Sqrt(sum)-1.0) > 1e-5 {
			t.Errorf("expected unit-length vector, got magnitude %f", math.Sqrt(sum))
		}
	})

	t.Run("embed batch", func(t *testing.T) {
		p := NewOllamaProvider(server.URL, "all-minilm", Dimensions)
		vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
		if err != nil {
			t.Fatal(err)
		}
		if len(vecs) != 3 {
			t.Fatalf("expected 3 vectors, got %d", len(vecs))
		}
		for i, v := range vecs {
			if len(v.Slice()) != Dimensions {
				t.Errorf("vector %d: expected %d dims, got %d", i, Dimensions, len(v.Slice()))
			}
		}
	})

	t.Run("server error", func(t *testing.T) {
		p := NewOllamaProvider("http://127.0.0.1:1", "all-minilm", Dimensions)
		if _, err := p.Embed(context.Background(), "test"); err == nil {
			t.Error("expected error for unreachable server")
		}
	})
}
