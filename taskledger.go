// Package taskledger is the public API for embedding the TaskLedger server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := taskledger.New(
//	    taskledger.WithVersion(version),
//	    taskledger.WithLogger(logger),
//	    taskledger.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: taskledger (root) imports
// internal/*, but internal/* never imports taskledger (root). Public types
// (SearchFilters, SearchResult) are standalone structs with no internal
// imports; adapters between the two sides live here because this is the only
// file that sees both.
package taskledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/taskledger-ai/taskledger/internal/auth"
	"github.com/taskledger-ai/taskledger/internal/config"
	"github.com/taskledger-ai/taskledger/internal/mcp"
	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/pipeline"
	"github.com/taskledger-ai/taskledger/internal/ratelimit"
	"github.com/taskledger-ai/taskledger/internal/refine"
	"github.com/taskledger-ai/taskledger/internal/search"
	"github.com/taskledger-ai/taskledger/internal/server"
	"github.com/taskledger-ai/taskledger/internal/service/embedding"
	"github.com/taskledger-ai/taskledger/internal/service/meetings"
	"github.com/taskledger-ai/taskledger/internal/stage"
	"github.com/taskledger-ai/taskledger/internal/storage"
	"github.com/taskledger-ai/taskledger/internal/telemetry"
	"github.com/taskledger-ai/taskledger/migrations"
)

// App is the TaskLedger server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	limiter      ratelimit.Limiter
	qdrantIndex  *search.QdrantIndex // nil when Qdrant is not configured
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the TaskLedger server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("taskledger starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	fail := func(err error) (*App, error) {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Run embedded migrations.
	if cfg.SkipEmbeddedMigrations {
		logger.Info("embedded migrations skipped by config")
	} else if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		return fail(fmt.Errorf("migrations: %w", err))
	}

	// Run extra (consumer-provided) migrations after the embedded ones.
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			return fail(fmt.Errorf("extra migrations[%d]: %w", i, err))
		}
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}

	// Semantic stage backend — external override takes priority over auto-detect.
	var backend stage.Backend
	if o.stageBackend != nil {
		backend = o.stageBackend
		logger.Info("stage backend: external", "name", backend.Name())
	} else {
		backend = newStageBackend(cfg, logger)
	}

	client := stage.NewClient(backend)
	invoker := stage.NewInvoker(logger)
	invoker.Attempts = cfg.StageAttempts
	invoker.BaseDelay = cfg.StageBaseDelay
	invoker.MaxDelay = cfg.StageMaxDelay
	invoker.MaxPromptRunes = cfg.MaxPromptRunes

	pipe := pipeline.New(client, invoker, logger)
	refiner := refine.NewController(
		refine.NewGenerator(client, invoker, logger),
		refine.NewApplier(logger),
	)

	// Embedding provider — external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &embeddingAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Qdrant search index (optional — disabled when QDRANT_URL is empty).
	var searcher search.Searcher
	var qdrantIndex *search.QdrantIndex
	if cfg.QdrantURL != "" {
		var idxErr error
		qdrantIndex, idxErr = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if idxErr != nil {
			return fail(fmt.Errorf("qdrant: %w", idxErr))
		}
		if err := qdrantIndex.EnsureCollection(context.Background()); err != nil {
			_ = qdrantIndex.Close()
			return fail(fmt.Errorf("qdrant ensure collection: %w", err))
		}
		searcher = qdrantIndex
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	// External Searcher override (replaces Qdrant for user-facing search;
	// pgvector in Postgres remains the fallback).
	if o.searcher != nil {
		searcher = &searcherAdapter{s: o.searcher}
	}

	// Meeting service (shared by HTTP and MCP handlers).
	svc := meetings.New(db, pipe, refiner, embedder, searcher, logger)

	// MCP server.
	mcpSrv := mcp.New(svc, logger, version)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Adapt public extension points to the internal server format.
	var extraRoutes func(*http.ServeMux)
	if len(o.routeRegistrars) > 0 {
		registrars := o.routeRegistrars
		extraRoutes = func(mux *http.ServeMux) {
			for _, fn := range registrars {
				fn(mux)
			}
		}
	}
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, (func(http.Handler) http.Handler)(mw))
	}

	// HTTP server (MCP mounted at /mcp).
	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		MeetingSvc:          svc,
		Logger:              logger,
		Limiter:             limiter,
		Searcher:            searcher,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ExtraRoutes:         extraRoutes,
		ExtraMiddleware:     middlewares,
	})

	// Seed the bootstrap admin key.
	if err := seedAdminKey(context.Background(), db, cfg.AdminAPIKey, logger); err != nil {
		return fail(fmt.Errorf("admin seed: %w", err))
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		limiter:      limiter,
		qdrantIndex:  qdrantIndex,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts background goroutines and the HTTP server, then blocks until ctx
// is cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	go a.idempotencyCleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully stops the server: stop accepting HTTP requests and drain
// in-flight ones, then close the rate limiter, search index, OTEL provider,
// and database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("taskledger shutting down")

	httpCtx, cancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	_ = a.limiter.Close()
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("taskledger stopped")
	return nil
}

// idempotencyCleanupLoop periodically deletes expired idempotency keys so
// replay protection doesn't grow the table without bound.
func (a *App) idempotencyCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.IdempotencyCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := a.db.CleanupIdempotencyKeys(opCtx, a.cfg.IdempotencyCompletedTTL, a.cfg.IdempotencyAbandonedTTL)
			cancel()
			if err != nil {
				a.logger.Warn("idempotency cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("idempotency cleanup deleted rows", "deleted", deleted)
			}
		}
	}
}

// ── Auto-detection (backend and embedding provider) ───────────────────────────

// newStageBackend selects the semantic backend from configuration.
// Auto mode prefers an explicit Gemini key, then OpenAI, then a locally
// reachable Ollama, else the deterministic noop backend.
func newStageBackend(cfg config.Config, logger *slog.Logger) stage.Backend {
	switch cfg.StageBackend {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			logger.Error("GEMINI_API_KEY required when TASKLEDGER_STAGE_BACKEND=gemini")
			return stage.NewNoopBackend()
		}
		logger.Info("stage backend: gemini", "model", cfg.Model)
		return stage.NewGeminiBackend(cfg.GeminiAPIKey, cfg.Model)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when TASKLEDGER_STAGE_BACKEND=openai")
			return stage.NewNoopBackend()
		}
		logger.Info("stage backend: openai", "model", cfg.Model)
		return stage.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.Model)
	case "ollama":
		logger.Info("stage backend: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return stage.NewOllamaBackend(cfg.OllamaURL, cfg.OllamaModel)
	case "noop":
		logger.Info("stage backend: noop (deterministic fallbacks only)")
		return stage.NewNoopBackend()
	case "auto":
		fallthrough
	default:
		if cfg.GeminiAPIKey != "" {
			logger.Info("stage backend: gemini (auto-detected)", "model", cfg.Model)
			return stage.NewGeminiBackend(cfg.GeminiAPIKey, cfg.Model)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("stage backend: openai (auto-detected)", "model", cfg.Model)
			return stage.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.Model)
		}
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("stage backend: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
			return stage.NewOllamaBackend(cfg.OllamaURL, cfg.OllamaModel)
		}
		logger.Warn("no semantic backend available, using noop (deterministic fallbacks only)")
		return stage.NewNoopBackend()
	}
}

// newEmbeddingProvider selects the embedding provider from configuration.
// Auto mode mirrors backend detection minus Gemini: OpenAI key, then a locally
// reachable Ollama, else noop (search falls back to text matching).
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when TASKLEDGER_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaEmbedModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaEmbedModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	case "auto":
		fallthrough
	default:
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		}
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaEmbedModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaEmbedModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	}
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

// ── Admin bootstrap ────────────────────────────────────────────────────────────

// seedAdminKey installs the configured admin API key if it is not already
// present. Without it a fresh deployment has no way to mint keys; the warning
// points operators at the knob.
func seedAdminKey(ctx context.Context, db *storage.DB, rawKey string, logger *slog.Logger) error {
	if rawKey == "" {
		logger.Warn("no TASKLEDGER_ADMIN_API_KEY set — key management endpoints are unreachable until one is seeded")
		return nil
	}

	prefix, err := model.ParseRawKey(rawKey)
	if err != nil {
		return fmt.Errorf("parse admin key: %w", err)
	}

	if _, err := db.GetAPIKeyByPrefix(ctx, prefix); err == nil {
		return nil // already seeded
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("look up admin key: %w", err)
	}

	hash, err := auth.HashAPIKey(rawKey)
	if err != nil {
		return fmt.Errorf("hash admin key: %w", err)
	}

	created, err := db.CreateAPIKey(ctx, model.APIKey{
		Prefix:  prefix,
		KeyHash: hash,
		Label:   "bootstrap-admin",
		Role:    model.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin key: %w", err)
	}

	logger.Info("bootstrap admin key seeded", "key_id", created.ID)
	return nil
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// embeddingAdapter wraps a public EmbeddingProvider to satisfy the internal
// embedding.Provider interface, converting []float32 to pgvector.Vector at
// the boundary.
type embeddingAdapter struct {
	p EmbeddingProvider
}

func (a *embeddingAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v), nil
}

func (a *embeddingAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vs))
	for i, v := range vs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *embeddingAdapter) Dimensions() int {
	return a.p.Dimensions()
}

// searcherAdapter wraps a public Searcher to satisfy search.Searcher,
// converting between public SearchFilters/SearchResult and internal types.
type searcherAdapter struct {
	s Searcher
}

func (a *searcherAdapter) Search(ctx context.Context, emb []float32, filter search.Filter, limit int) ([]search.Result, error) {
	pub := SearchFilters{MeetingID: filter.MeetingID}
	if filter.PriorityMin != nil {
		p := string(*filter.PriorityMin)
		pub.PriorityMin = &p
	}
	results, err := a.s.Search(ctx, emb, pub, limit)
	if err != nil {
		return nil, err
	}
	out := make([]search.Result, len(results))
	for i, r := range results {
		out[i] = search.Result{ItemID: r.ItemID, Score: r.Score}
	}
	return out, nil
}

func (a *searcherAdapter) Healthy(ctx context.Context) error {
	return a.s.Healthy(ctx)
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
