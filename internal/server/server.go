package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/taskledger-ai/taskledger/internal/auth"
	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/ratelimit"
	"github.com/taskledger-ai/taskledger/internal/search"
	"github.com/taskledger-ai/taskledger/internal/service/meetings"
	"github.com/taskledger-ai/taskledger/internal/storage"
)

// Server is the TaskLedger HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, Searcher, MCPServer, ExtraRoutes,
// ExtraMiddleware.
type ServerConfig struct {
	// Required dependencies.
	DB         *storage.DB
	JWTMgr     *auth.JWTManager
	MeetingSvc *meetings.Service
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	Searcher  search.Searcher
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// Extension points used by the library facade.
	ExtraRoutes     func(mux *http.ServeMux)
	ExtraMiddleware []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		MeetingSvc:          cfg.MeetingSvc,
		Searcher:            cfg.Searcher,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Authenticated endpoints are limited per API key; the unauthenticated
	// token exchange is limited per client IP.
	keyRL := ratelimit.Middleware(cfg.Limiter, apiKeyFunc, reqIDFunc, cfg.Logger)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Meeting ingestion and refinement (editor+, rate limited).
	editorOnly := requireRole(model.RoleEditor)
	mux.Handle("POST /v1/meetings", keyRL(editorOnly(http.HandlerFunc(h.HandleCreateMeeting))))
	mux.Handle("DELETE /v1/meetings/{id}", keyRL(editorOnly(http.HandlerFunc(h.HandleDeleteMeeting))))
	mux.Handle("POST /v1/meetings/{id}/refine", keyRL(editorOnly(http.HandlerFunc(h.HandleRefineMeeting))))
	mux.Handle("PATCH /v1/action-items/{id}", keyRL(editorOnly(http.HandlerFunc(h.HandleUpdateActionItem))))
	mux.Handle("POST /v1/action-items/{id}/clarify", keyRL(editorOnly(http.HandlerFunc(h.HandleClarifyItem))))

	// Read endpoints (reader+, rate limited).
	readerOnly := requireRole(model.RoleReader)
	mux.Handle("GET /v1/meetings", keyRL(readerOnly(http.HandlerFunc(h.HandleListMeetings))))
	mux.Handle("GET /v1/meetings/{id}", keyRL(readerOnly(http.HandlerFunc(h.HandleGetMeeting))))
	mux.Handle("GET /v1/meetings/{id}/action-items", keyRL(readerOnly(http.HandlerFunc(h.HandleListMeetingItems))))
	mux.Handle("GET /v1/action-items/{id}", keyRL(readerOnly(http.HandlerFunc(h.HandleGetActionItem))))
	mux.Handle("POST /v1/search", keyRL(readerOnly(http.HandlerFunc(h.HandleSearch))))

	// API key management (admin-only, exempt from rate limits).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/keys", adminOnly(http.HandlerFunc(h.HandleCreateKey)))
	mux.Handle("GET /v1/keys", adminOnly(http.HandlerFunc(h.HandleListKeys)))
	mux.Handle("DELETE /v1/keys/{id}", adminOnly(http.HandlerFunc(h.HandleRevokeKey)))

	// MCP StreamableHTTP transport (auth required, reader+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readerOnly(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /healthz", h.HandleLiveness)
	mux.HandleFunc("GET /readyz", h.HandleReadiness)

	if cfg.ExtraRoutes != nil {
		cfg.ExtraRoutes(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	for i := len(cfg.ExtraMiddleware) - 1; i >= 0; i-- {
		handler = cfg.ExtraMiddleware[i](handler)
	}
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, cfg.DB, cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// apiKeyFunc extracts the authenticated key ID from the request context for
// rate limiting. Returns empty string for admin keys (exempt) and for
// unauthenticated requests (public paths carry their own limits).
func apiKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return "key:" + claims.APIKeyID.String()
}

// Handlers returns the underlying Handlers for access in tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
