// Package api is the HTTP entry surface: a synchronous query endpoint with a
// sub-second budget, an asynchronous submit endpoint with callback delivery,
// and operator endpoints (health, recent outcomes, event stream).
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/frostr/iglood/internal/audit"
	"github.com/frostr/iglood/internal/events"
	"github.com/frostr/iglood/internal/health"
	"github.com/frostr/iglood/internal/protocol"
)

// RequestHandler routes one request to its terminal outcome.
type RequestHandler interface {
	Handle(ctx context.Context, req protocol.Request) protocol.Outcome
}

// QueueStats reports queue occupancy for the health endpoint.
type QueueStats interface {
	Len() int
}

// PendingStats reports unresolved calls for the health endpoint.
type PendingStats interface {
	Pending() int
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the bearer token protecting the request endpoints.
	APIKey string
	// SyncBudget bounds how long the synchronous entry may block.
	SyncBudget time.Duration
	// RequestTimeout is the deadline applied to accepted requests.
	RequestTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	handler   RequestHandler
	tracker   *health.Tracker
	queue     QueueStats
	pending   PendingStats
	outcomes  *audit.Log
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	callback  *http.Client
}

func New(config Config, handler RequestHandler, tracker *health.Tracker, q QueueStats, pending PendingStats, outcomes *audit.Log, hub *events.Hub, logger *slog.Logger) *Server {
	if config.SyncBudget <= 0 {
		config.SyncBudget = 750 * time.Millisecond
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	return &Server{
		config:    config,
		handler:   handler,
		tracker:   tracker,
		queue:     q,
		pending:   pending,
		outcomes:  outcomes,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
		callback:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Start starts the HTTP server (blocking until ctx is done).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/v1/request", s.handleRequest)
		r.Post("/v1/submit", s.handleSubmit)
		r.Get("/v1/outcomes", s.handleOutcomes)
		r.Get("/v1/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
