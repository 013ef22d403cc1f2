// Package server implements the HTTP API: run control, champion lookup, and
// live telemetry over SSE and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/neurogenx/neurogenx/internal/auth"
	"github.com/neurogenx/neurogenx/internal/broadcast"
	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/ratelimit"
)

// Server is the NeuroGenX HTTP server.
type Server struct {
	httpServer  *http.Server
	handler     http.Handler
	authLimiter *ratelimit.MemoryLimiter
	logger      *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil = disabled): Champions, Limiter, JWTMgr,
// AdminKey, Pinger, MCPServer, OpenAPISpec. Auth is enforced on mutating
// routes when JWTMgr is set.
type ServerConfig struct {
	Runs        RunService
	Broadcaster *broadcast.Broadcaster
	Logger      *slog.Logger

	Champions champion.Registry
	Limiter   ratelimit.Limiter
	JWTMgr    *auth.JWTManager
	AdminKey  *auth.AdminKey
	Pinger    Pinger
	MCPServer *mcpserver.MCPServer

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	DefaultTrialBudget  int
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// New creates the HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg)

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	runsRL := func(next http.Handler) http.Handler { return next }
	if cfg.Limiter != nil {
		runsRL = ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)
	}
	// Token issuance is brute-force bait: 5 attempts, then one per 5s.
	authRL := func(next http.Handler) http.Handler { return next }
	var authLimiter *ratelimit.MemoryLimiter
	if cfg.JWTMgr != nil {
		authLimiter = ratelimit.NewMemoryLimiter(0.2, 5)
		authRL = ratelimit.Middleware(authLimiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)
	}
	write := requireScope(cfg.JWTMgr, auth.ScopeRunsWrite)

	mux := http.NewServeMux()

	// Auth (no token required, tightly rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Run control.
	mux.Handle("POST /v1/runs", write(runsRL(http.HandlerFunc(h.HandleCreateRun))))
	mux.Handle("GET /v1/runs", http.HandlerFunc(h.HandleListRuns))
	mux.Handle("GET /v1/runs/{run_id}", http.HandlerFunc(h.HandleGetRun))
	mux.Handle("POST /v1/runs/{run_id}/cancel", write(http.HandlerFunc(h.HandleCancelRun)))
	mux.Handle("GET /v1/champion", http.HandlerFunc(h.HandleChampion))

	// Telemetry streams (long-lived, no rate limit).
	mux.Handle("GET /v1/subscribe", http.HandlerFunc(h.HandleSubscribe))
	mux.Handle("GET /ws/telemetry", http.HandlerFunc(h.HandleWebSocket))

	// MCP StreamableHTTP transport. Tools can start runs, so it needs the
	// write scope.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", write(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:     handler,
		authLimiter: authLimiter,
		logger:      cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	if s.authLimiter != nil {
		_ = s.authLimiter.Close()
	}
	return s.httpServer.Shutdown(ctx)
}
