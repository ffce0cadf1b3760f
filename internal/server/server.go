package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giron-ai/giron/internal/auth"
	"github.com/giron-ai/giron/internal/model"
	"github.com/giron-ai/giron/internal/ratelimit"
	"github.com/giron-ai/giron/internal/search"
	"github.com/giron-ai/giron/internal/service/discussions"
	"github.com/giron-ai/giron/internal/service/embedding"
	"github.com/giron-ai/giron/internal/storage"
)

// Server is the Giron HTTP server.
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
// Optional fields (nil-safe): Limiter, Broker, Indexer, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB            *storage.DB
	JWTMgr        *auth.JWTManager
	DiscussionSvc *discussions.Service
	Embedder      embedding.Provider
	Logger        *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	Broker    *Broker
	Indexer   search.Indexer
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte

	// Extension points for embedding consumers.
	ExtraRoutes []func(*http.ServeMux, RoleMiddlewareFn)
	Middlewares []func(http.Handler) http.Handler
}

// RoleMiddlewareFn builds role-enforcing middleware for extra routes, so
// embedded deployments share the RBAC chain without importing internals.
type RoleMiddlewareFn func(roles ...model.AgentRole) func(http.Handler) http.Handler

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		DiscussionSvc:       cfg.DiscussionSvc,
		Embedder:            cfg.Embedder,
		Indexer:             cfg.Indexer,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	authRL := ratelimit.Middleware(cfg.Limiter, prefixedKey("auth", ratelimit.IPKeyFunc), reqIDFunc)
	apiRL := ratelimit.Middleware(cfg.Limiter, prefixedKey("api", agentKeyFunc), reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Agent management (admin-only, no rate limit — admin is exempt).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/agents", adminOnly(http.HandlerFunc(h.HandleCreateAgent)))

	// Rooms and messages (any authenticated agent, rate limited).
	member := requireRole(model.RoleMember, model.RoleAdmin)
	mux.Handle("POST /v1/rooms", apiRL(member(http.HandlerFunc(h.HandleCreateRoom))))
	mux.Handle("GET /v1/rooms/{room_id}/messages", apiRL(member(http.HandlerFunc(h.HandleListRoomMessages))))
	mux.Handle("POST /v1/rooms/{room_id}/messages", apiRL(member(http.HandlerFunc(h.HandlePostRoomMessage))))

	// Discussion lifecycle (any authenticated agent, rate limited).
	// Execute is exempt: it holds the connection for the whole turn loop.
	mux.Handle("POST /v1/discussions", apiRL(member(http.HandlerFunc(h.HandleCreateDiscussion))))
	mux.Handle("POST /v1/discussions/{id}/execute", member(http.HandlerFunc(h.HandleExecuteDiscussion)))
	mux.Handle("POST /v1/discussions/{id}/pause", apiRL(member(http.HandlerFunc(h.HandlePauseDiscussion))))
	mux.Handle("POST /v1/discussions/{id}/resume", apiRL(member(http.HandlerFunc(h.HandleResumeDiscussion))))
	mux.Handle("POST /v1/discussions/{id}/stop", apiRL(member(http.HandlerFunc(h.HandleStopDiscussion))))
	mux.Handle("GET /v1/discussions/{id}", apiRL(member(http.HandlerFunc(h.HandleGetDiscussion))))

	// Event subscription (no rate limit — long-lived connection).
	mux.Handle("GET /v1/subscribe", member(http.HandlerFunc(h.HandleSubscribe)))

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", member(mcpHTTP))
	}

	// Health and API docs (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Extra routes registered by embedding consumers.
	for _, register := range cfg.ExtraRoutes {
		register(mux, requireRole)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	// Consumer middlewares wrap outermost: first registered sees the
	// request first.
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

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

// prefixedKey namespaces a key func so different route groups consume
// separate buckets.
func prefixedKey(prefix string, kf ratelimit.KeyFunc) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		key := kf(r)
		if key == "" {
			return ""
		}
		return prefix + ":" + key
	}
}

// agentKeyFunc extracts the agent ID from the request context for rate limiting.
// Returns empty string for admins (exempt from rate limits).
func agentKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if claims.Role == model.RoleAdmin {
		return ""
	}
	return claims.AgentID
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
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
