// Package api serves the HTTP surface of the gateway.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/sttgw/internal/auth"
	"github.com/mattjoyce/sttgw/internal/events"
	"github.com/mattjoyce/sttgw/internal/journal"
	"github.com/mattjoyce/sttgw/internal/supervisor"
)

//go:generate mockgen -destination=mocks/mock_api.go -package=mocks github.com/mattjoyce/sttgw/internal/api Transcriber,JobLookup

// Transcriber runs transcriptions; implemented by *supervisor.Supervisor.
type Transcriber interface {
	TranscribeJob(ctx context.Context, path string) (supervisor.Outcome, error)
	State() supervisor.WorkerState
}

// JobLookup reads finished jobs; implemented by *journal.Recorder.
type JobLookup interface {
	Get(ctx context.Context, id string) (*journal.Record, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// FallbackOnError answers failed transcriptions with 200 and empty text.
	FallbackOnError bool
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	stt       Transcriber
	jobs      JobLookup
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. jobs and hub may be nil, in which
// case their routes answer 404.
func New(config Config, stt Transcriber, jobs JobLookup, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		stt:       stt,
		jobs:      jobs,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Requests wait behind the single worker; leave room for a long queue.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.With(s.requireScopes(auth.ScopeTranscribeRW)).Post("/transcribe", s.handleTranscribe)
		r.With(s.requireScopes(auth.ScopeJobsRO)).Get("/job/{jobID}", s.handleGetJob)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
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
