package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/sercha-sync/internal/core/services"
)

// Server exposes the sync engine over HTTP: health probes, import and
// journal triggers, queue introspection and Prometheus metrics.
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string

	engine *services.Engine
	logger *slog.Logger
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string

	// JWTSecret signs and verifies API tokens. Empty disables auth,
	// which is only acceptable behind a trusted proxy.
	JWTSecret string

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, engine *services.Engine) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:  http.NewServeMux(),
		version: cfg.Version,
		engine:  engine,
		logger:  logger,
	}

	logging := NewLoggingMiddleware(logger)
	recovery := NewRecoveryMiddleware(logger)

	s.setupRoutes(cfg.JWTSecret)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      recovery.Handler(logging.Handler(s.router)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(jwtSecret string) {
	auth := NewAuthMiddleware(jwtSecret)

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Metrics (no auth, scrape target)
	s.router.Handle("GET /metrics", promhttp.Handler())

	// Index endpoints
	s.router.Handle("GET /api/v1/indices",
		auth.Authenticate(http.HandlerFunc(s.handleListIndices)))
	s.router.Handle("POST /api/v1/indices/{name}/import",
		auth.Authenticate(http.HandlerFunc(s.handleImport)))

	// Journal endpoints
	s.router.Handle("POST /api/v1/journal/apply",
		auth.Authenticate(http.HandlerFunc(s.handleJournalApply)))
	s.router.Handle("POST /api/v1/journal/clean",
		auth.Authenticate(http.HandlerFunc(s.handleJournalClean)))

	// Queue endpoints
	s.router.Handle("GET /api/v1/queue/stats",
		auth.Authenticate(http.HandlerFunc(s.handleQueueStats)))
}

// Start starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
