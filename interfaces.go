package taskledger

import (
	"context"
	"net/http"
)

// StageBackend is a chat-style completion capability for the semantic pipeline
// stages. When provided via WithStageBackend, replaces the auto-detected
// Gemini/OpenAI/Ollama/noop backend for all four stages.
type StageBackend interface {
	// Complete sends one prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)
	// Name identifies the backend for health reporting and logs.
	Name() string
}

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces the auto-detected
// OpenAI/Ollama/noop provider. Uses []float32 (not pgvector.Vector) so
// external consumers don't inherit the pgvector dependency; New() wraps it
// in an adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Searcher is a vector search index for action items.
// When provided via WithSearcher, replaces the auto-detected Qdrant index.
// Returns item IDs + scores; the caller hydrates full items from Postgres.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, filters SearchFilters, limit int) ([]SearchResult, error)
	Healthy(ctx context.Context) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extra routes share the mux, auth chain, and OTEL instrumentation with the
// built-in routes. The function is called once during New() after all
// built-in routes are registered.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler. Applied inside the built-in chain
// (after auth, before the panic recovery that guards handlers), so requests
// reaching it are already authenticated. Multiple middlewares are applied in
// registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
