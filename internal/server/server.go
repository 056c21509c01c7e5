// Package server provides the HTTP server and routing for the inbox.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tradeinbox/internal/config"
	"github.com/aristath/tradeinbox/internal/di"
	"github.com/aristath/tradeinbox/internal/modules/ingest"
	ingesthandlers "github.com/aristath/tradeinbox/internal/modules/ingest/handlers"
	reviewhandlers "github.com/aristath/tradeinbox/internal/modules/review/handlers"
	settingshandlers "github.com/aristath/tradeinbox/internal/modules/settings/handlers"
	transactionhandlers "github.com/aristath/tradeinbox/internal/modules/transactions/handlers"
	"github.com/aristath/tradeinbox/internal/work"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	cfg       *config.Config
	container *di.Container
	system    *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg.Config,
		container: cfg.Container,
		system:    NewSystemHandlers(cfg.Container, cfg.Log),
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router returns the root handler
func (s *Server) Router() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5, "application/json"))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	c := s.container

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Streams are long-lived and must not sit behind the request timeout
		events := NewEventsStreamHandler(c.EventBus, s.log)
		r.Get("/events/stream", events.ServeHTTP)
		r.Get("/events/ws", events.ServeWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.system.HandleSystemStatus)
				r.Get("/databases", s.system.HandleDatabaseStats)
			})

			batch := ingest.BatchOptions{
				Delay:   s.cfg.BatchDelay,
				Workers: s.cfg.BatchWorkers,
			}
			if batch.Delay == 0 {
				// BATCH_DELAY_MS=0 means no spacing
				batch.Delay = -1
			}
			ingesthandlers.NewHandler(c.Orchestrator, batch, s.log).RegisterRoutes(r)
			reviewhandlers.NewHandler(c.ReviewQueue, s.cfg.ReviewRetentionDays, s.log).RegisterRoutes(r)
			settingshandlers.NewHandler(c.SettingsService, s.log).RegisterRoutes(r)
			transactionhandlers.NewHandler(c.TransactionService, c.ProcessedEmailRepo, c.PortfolioRepo, s.log).RegisterRoutes(r)
			work.NewHandlers(c.WorkProcessor, c.WorkRegistry, c.WorkCompletion, s.log).RegisterRoutes(r)
		})
	})
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
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
