package taskledger

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port              int
	databaseURL       string
	logger            *slog.Logger
	version           string
	stageBackend      StageBackend
	embeddingProvider EmbeddingProvider
	searcher          Searcher
	routeRegistrars   []RouteRegistrar
	middlewares       []Middleware
	extraMigrations   []fs.FS
}

// WithPort overrides the TCP port from config (TASKLEDGER_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithStageBackend replaces the auto-detected semantic backend
// (Gemini/OpenAI/Ollama/noop) used by all pipeline and clarification stages.
// Only the last call wins.
func WithStageBackend(b StageBackend) Option {
	return func(o *resolvedOptions) { o.stageBackend = b }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider
// (OpenAI/Ollama/noop). Only the last call wins.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithSearcher replaces the auto-detected Qdrant vector search index.
// Postgres pgvector remains the fallback when the searcher is unhealthy.
func WithSearcher(s Searcher) Option {
	return func(o *resolvedOptions) { o.searcher = s }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an HTTP middleware on the built-in chain.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run
// after the embedded migrations. Multiple filesystems may be registered;
// they are applied in registration order. The FS must contain sequential
// .sql files compatible with the embedded migration format.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
