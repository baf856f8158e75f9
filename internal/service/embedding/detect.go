package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirokuhq/kiroku/internal/config"
)

// NewFromConfig builds the embedding chain: a base provider chosen by
// configuration, degraded to the deterministic fallback on errors, with an
// LRU cache in front. Provider selection: "ollama", "openai", "fallback",
// "noop", or "auto" (default). Auto mode tries Ollama if reachable, then
// OpenAI if a key is present, else the deterministic fallback.
func NewFromConfig(cfg config.Config, logger *slog.Logger) (Provider, error) {
	dims := cfg.EmbeddingDimensions

	var base Provider
	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY required when KIROKU_EMBEDDING_PROVIDER=openai")
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		base = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		base = NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "fallback":
		logger.Info("embedding provider: deterministic fallback", "dimensions", dims)
		return NewCached(NewFallbackProvider(dims), cfg.EmbeddingCacheSize)

	case "noop":
		logger.Info("embedding provider: noop (retrieval disabled)")
		return NewNoopProvider(dims), nil

	default: // "auto"
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			base = NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		} else if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			base = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		} else {
			logger.Warn("no embedding provider available, using deterministic fallback")
			return NewCached(NewFallbackProvider(dims), cfg.EmbeddingCacheSize)
		}
	}

	return NewCached(WithFallback(base, logger), cfg.EmbeddingCacheSize)
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
