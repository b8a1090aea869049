// Package server provides the HTTP server and routing for the compliance
// API.
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

	"github.com/rwa-platform/compliance-oracle/internal/compliance"
	"github.com/rwa-platform/compliance-oracle/internal/config"
	"github.com/rwa-platform/compliance-oracle/internal/database"
	"github.com/rwa-platform/compliance-oracle/internal/oracle"
	"github.com/rwa-platform/compliance-oracle/internal/rules"
	"github.com/rwa-platform/compliance-oracle/internal/scheduler"
)

// Config holds server configuration.
type Config struct {
	Log        zerolog.Logger
	Config     *config.Config
	Compliance *compliance.Service
	Oracle     *oracle.Service // nil when the oracle loop is disabled
	Rules      *rules.Store
	Runs       *scheduler.RunsRepository
	Scheduler  *scheduler.Scheduler
	DailyJob   scheduler.Job
	DB         *database.DB
	Model      string
	Port       int
	DevMode    bool
}

// Server represents the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	cfg        *config.Config
	compliance *compliance.Service
	oracle     *oracle.Service
	rules      *rules.Store
	runs       *scheduler.RunsRepository
	scheduler  *scheduler.Scheduler
	dailyJob   scheduler.Job
	db         *database.DB
	model      string
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		cfg:        cfg.Config,
		compliance: cfg.Compliance,
		oracle:     cfg.Oracle,
		rules:      cfg.Rules,
		runs:       cfg.Runs,
		scheduler:  cfg.Scheduler,
		dailyJob:   cfg.DailyJob,
		db:         cfg.DB,
		model:      cfg.Model,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	// Reasoner calls can take most of a minute with retries.
	s.router.Use(middleware.Timeout(110 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
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

	s.router.Post("/classify-jurisdiction", s.handleClassifyJurisdiction)
	s.router.Post("/resolve-conflicts", s.handleResolveConflicts)
	s.router.Post("/validate-token-compliance", s.handleValidateTokenCompliance)

	s.router.Route("/oracle", func(r chi.Router) {
		r.Post("/analyze", s.handleOracleAnalyze)
		r.Get("/pending", s.handleListPending)
		r.Route("/pending/{changeID}", func(r chi.Router) {
			r.Get("/", s.handleGetPending)
			r.Post("/approve", s.handleApprove)
			r.Post("/reject", s.handleReject)
			r.Post("/simulate", s.handleSimulate)
			r.Get("/impact", s.handleImpact)
			r.Get("/casualties", s.handleCasualties)
		})
		r.Get("/history/{jurisdiction}", s.handleHistory)
	})

	s.router.Route("/scheduler", func(r chi.Router) {
		r.Get("/runs", s.handleSchedulerRuns)
		r.Post("/run", s.handleTriggerRun)
	})

	s.router.Get("/system/status", s.handleSystemStatus)
}

// Start starts the HTTP server.
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
