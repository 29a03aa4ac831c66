// Package server provides the HTTP API over stored scenarios and runs.
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

	"github.com/aristath/horizon/internal/config"
	"github.com/aristath/horizon/internal/scenario"
	"github.com/aristath/horizon/internal/simulation"
)

// Config holds server configuration.
type Config struct {
	Log       zerolog.Logger
	Cfg       *config.Config
	Scenarios *scenario.Repository
	Runs      *simulation.Repository
}

// Server is the HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	handlers *Handlers
}

// New creates a new HTTP server with routing and middleware configured.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		handlers: NewHandlers(cfg.Scenarios, cfg.Runs, cfg.Cfg, cfg.Log),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // runs execute synchronously
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handlers.Health)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", s.handlers.ListScenarios)
			r.Post("/", s.handlers.CreateScenario)
			r.Get("/{id}", s.handlers.GetScenario)
			r.Delete("/{id}", s.handlers.DeleteScenario)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handlers.ListRuns)
			r.Post("/", s.handlers.CreateRun)
			r.Get("/{id}", s.handlers.GetRun)
			r.Get("/{id}/trials", s.handlers.GetRunTrials)
		})
	})
}

// Start begins listening. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
