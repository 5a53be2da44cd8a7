// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware, and routes.
// Think of it as the control centre that decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// WHY SEPARATE FROM main.go?
// Keeping server setup in its own package makes it:
// - Testable (we can create a test server without running main)
// - Reusable (multiple entry points could use the same server config)
// - Clean (main.go stays minimal, just "provide the pieces")
//
// DEPENDENCY INJECTION FLOW:
// cmd/server builds the execution pipeline (registry, workspaces, Docker
// runtime, orchestrator, service) and hands the finished pieces to New via Deps.
// The server never constructs business objects itself; it only routes to them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/handler"
	"github.com/sakif/code-runner/internal/middleware"
)

// Config holds server configuration.
// Using a struct for config (instead of individual parameters) makes it easy to:
// - Add new config options without changing function signatures
// - Pass config around as a single value
type Config struct {
	Port         int
	MaxBodyBytes int64
	// WriteTimeout must outlast the longest execution, or slow programs would
	// have their response cut off after the result was computed.
	WriteTimeout time.Duration
	Development  bool
}

// Deps are the collaborators the routes dispatch to.
type Deps struct {
	Executor executor.Executor
	Catalog  handler.Catalog
	Runtime  handler.Pinger
	Tokens   *auth.TokenService // nil: /execute is open
	MCP      http.Handler       // nil: /mcp is not mounted
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger

	srv      *http.Server
	listener net.Listener
	done     chan error
}

// New creates a new Server with the given config.
//
// Each handler only receives what it needs:
// - ExecuteHandler gets the Executor interface (not the orchestrator or Docker)
// - HealthHandler gets something it can Ping
// - LanguagesHandler gets the catalog
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.setupRoutes(deps)
	return s
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /execute    → run a program (JSON)          [service token when auth.secret is set]
// GET    /languages  → enabled languages (JSON)
// GET    /health     → liveness + Docker reachability
// *      /mcp        → MCP streamable HTTP endpoint   [only when mcp.enabled]
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added. Our order:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger: logs each request with timing info
// 5. RequestSize: caps the body before any handler reads it
func (s *Server) setupRoutes(deps Deps) {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.RequestSize(s.config.MaxBodyBytes))

	// === Fallbacks ===
	// Unknown paths and wrong methods answer in the same JSON shape as
	// everything else, listing what does exist.
	s.router.NotFound(handler.NotFound)
	s.router.MethodNotAllowed(handler.MethodNotAllowed)

	// === Public Routes ===
	languagesHandler := handler.NewLanguagesHandler(deps.Catalog)
	healthHandler := handler.NewHealthHandler(deps.Runtime, s.logger)
	s.router.Get("/languages", languagesHandler.HandleList)
	s.router.Get("/health", healthHandler.HandleHealth)

	// === Execution Routes ===
	// Both surfaces run untrusted code, so both sit behind the token check
	// when one is configured.
	executeHandler := handler.NewExecuteHandler(deps.Executor, deps.Catalog, s.config.Development, s.logger)
	s.router.Group(func(r chi.Router) {
		if deps.Tokens != nil {
			r.Use(auth.RequireServiceToken(deps.Tokens, handler.WriteError, s.logger))
		}
		r.Post("/execute", executeHandler.HandleExecute)
		if deps.MCP != nil {
			r.Handle("/mcp", deps.MCP)
		}
	})
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the port and serves in the background. It returns once the
// listener is open, so bind errors surface to the caller immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.config.Port, err)
	}

	// Create the HTTP server with timeouts sized for code execution
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	s.listener = ln
	s.done = make(chan error, 1)

	s.logger.Info("server starting",
		slog.String("addr", ln.Addr().String()),
		slog.Bool("development", s.config.Development),
	)
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests.
//
// GRACEFUL SHUTDOWN:
// An in-flight /execute only returns after its container and workspace are
// gone, so waiting for requests to drain is also waiting for cleanup.
// If ctx expires first, the request contexts are cancelled and each
// execution tears its own resources down on the way out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("server shutting down")
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-s.done; err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}
