package giron

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces the auto-detected
// Ollama/OpenAI/noop provider. Uses []float32 (not pgvector.Vector) so
// external consumers don't inherit the pgvector dependency; New() wraps
// it in an adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// GenerationMessage is one entry of assembled conversation context.
type GenerationMessage struct {
	Role    string
	Content string
}

// GenerationRequest is the input to a turn completion call.
type GenerationRequest struct {
	System   string
	Messages []GenerationMessage
	UserID   string
}

// GenerationProvider produces one turn's content from assembled context.
// When provided via WithGenerationProvider, replaces the configured
// OpenAI/script provider. The built-in retry policy still wraps it:
// transient failures are retried, exhaustion fails the discussion.
type GenerationProvider interface {
	Complete(ctx context.Context, req GenerationRequest) (string, error)
}

// Searcher is a vector search index over room messages.
// When provided via WithSearcher, replaces the auto-detected Qdrant index
// for context retrieval. Returns message IDs + scores; the caller
// hydrates full messages from Postgres.
type Searcher interface {
	Search(ctx context.Context, roomID uuid.UUID, embedding []float32, limit int) ([]SearchResult, error)
	Healthy(ctx context.Context) error
}

// EventHook receives async notifications as discussions progress.
// Multiple hooks may be registered via multiple WithEventHook calls.
// Hook methods run in goroutines with a bounded context and must not
// block indefinitely. Failures are logged and never fail the turn loop.
type EventHook interface {
	OnTurnAppended(ctx context.Context, turn Turn) error
	OnStateChanged(ctx context.Context, d Discussion) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extra routes share the mux, auth chain, and OTEL instrumentation with
// the built-in routes. Called once during New() after all built-in routes
// are registered.
type RouteRegistrar func(mux *http.ServeMux, auth AuthHelper)

// AuthHelper provides RBAC middleware for use in RouteRegistrar, wrapping
// the server's role enforcement so extra routes use the same auth chain
// without depending on internal packages.
type AuthHelper interface {
	RequireRole(roles ...Role) func(http.Handler) http.Handler
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including
// /health. Multiple middlewares are applied in registration order
// (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
