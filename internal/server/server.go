package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BadgerOps/goesfill/internal/config"
	"github.com/BadgerOps/goesfill/internal/engine"
)

// Server exposes the reconcile engine over a JSON API.
type Server struct {
	engine     *engine.Engine
	config     *config.Config
	logger     *slog.Logger
	httpServer *http.Server

	// At most one background fetch runs at a time.
	fetchMu      sync.Mutex
	fetchRunning bool
	fetchCancel  context.CancelFunc
	fetchDone    chan struct{}
}

// NewServer creates a new Server instance.
func NewServer(eng *engine.Engine, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Server{
		engine: eng,
		config: cfg,
		logger: logger,
	}
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	s.httpServer = &http.Server{
		Addr:        listenAddr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: progress streams stay open for the whole fetch.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown cancels any running fetch, waits for it to wind down, and then
// gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelFetch()
	s.waitFetch(ctx)

	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/scan", s.handleScan)
		r.Get("/detect", s.handleDetect)

		r.Post("/fetch", s.handleFetch)
		r.Delete("/fetch/current", s.handleCancelFetch)
		r.Get("/fetch/progress", s.handleFetchProgress)

		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/cache", s.handleCacheReset)

		r.Get("/outcomes", s.handleOutcomes)
		r.Get("/runs", s.handleRuns)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ===== Background Fetch =====

// startFetch launches fn in the background unless a fetch is already running.
func (s *Server) startFetch(fn func(ctx context.Context)) bool {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()
	if s.fetchRunning {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.fetchRunning = true
	s.fetchCancel = cancel
	s.fetchDone = done

	go func() {
		defer func() {
			cancel()
			s.fetchMu.Lock()
			s.fetchRunning = false
			s.fetchCancel = nil
			s.fetchMu.Unlock()
			close(done)
		}()
		fn(ctx)
	}()
	return true
}

// cancelFetch requests cancellation of the running fetch. It reports whether
// one was running.
func (s *Server) cancelFetch() bool {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()
	if !s.fetchRunning || s.fetchCancel == nil {
		return false
	}
	s.fetchCancel()
	return true
}

// waitFetch blocks until the most recent background fetch has returned or ctx is done.
func (s *Server) waitFetch(ctx context.Context) {
	s.fetchMu.Lock()
	done := s.fetchDone
	s.fetchMu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}
