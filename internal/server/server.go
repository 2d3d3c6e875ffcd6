// Package server exposes the backtest engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-bench/internal/config"
	"github.com/aristath/portfolio-bench/internal/modules/backtest"
	"github.com/aristath/portfolio-bench/internal/modules/results"
	"github.com/aristath/portfolio-bench/internal/modules/returns"
)

// Config holds server configuration.
type Config struct {
	Log     zerolog.Logger
	Config  *config.Config
	Store   *results.Store
	Port    int
	DevMode bool
}

// Server represents the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    *config.Config
	store  *results.Store

	mu     sync.RWMutex
	matrix *returns.Matrix

	orchestrator *backtest.Orchestrator
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		log:          cfg.Log.With().Str("component", "server").Logger(),
		cfg:          cfg.Config,
		store:        cfg.Store,
		orchestrator: backtest.NewOrchestrator(cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // runs can take a while
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetMatrix replaces the in-memory returns matrix. Called at startup and by
// the refresh job when the data file changes.
func (s *Server) SetMatrix(m *returns.Matrix) {
	s.mu.Lock()
	s.matrix = m
	s.mu.Unlock()
}

// Matrix returns the current returns matrix, or nil before the first load.
func (s *Server) Matrix() *returns.Matrix {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matrix
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(120 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/backtests", s.handleRunBacktest)
		r.Get("/backtests", s.handleListBacktests)
		r.Get("/backtests/{id}", s.handleGetBacktest)
		r.Get("/backtests/{id}/weights", s.handleGetWeights)
		r.Get("/backtests/{id}/significance", s.handleGetSignificance)
	})
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
