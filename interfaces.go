package kiroku

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces the auto-detected
// Ollama/OpenAI/fallback chain. Uses []float32 (not pgvector.Vector) so
// external consumers are not forced onto the pgvector dependency; New()
// wraps it in an adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Reasoner is the language model behind drafting, insight extraction, and
// the plan chat. When provided via WithReasoner, replaces the built-in
// OpenAI-compatible HTTP client. jsonMode asks the model for a JSON object
// response where the backend supports it.
type Reasoner interface {
	Complete(ctx context.Context, system, user string) (string, error)
	CompleteMessages(ctx context.Context, messages []Message, jsonMode bool) (string, error)
}

// EventHook receives async notifications when a decision changes in any
// process. Hooks run in goroutines off the notification loop; they must
// not block indefinitely. Failures are logged, never propagated.
type EventHook interface {
	OnDecisionUpdated(ctx context.Context, decision Decision) error
}

// RouteRegistrar registers additional routes on the shared router. The
// function is called once during New() after the built-in routes, inside
// the same middleware chain (request id, logging, recovery).
type RouteRegistrar func(r chi.Router)

// Middleware wraps the root HTTP handler. Applied outermost (before
// routing), so it sees all requests including /healthz. Multiple
// middlewares are applied in registration order, first-registered
// outermost.
type Middleware func(http.Handler) http.Handler
