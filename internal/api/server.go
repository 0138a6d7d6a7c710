package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"k8s.io/utils/clock"

	"github.com/terra-clan/proctor-engine/internal/config"
	"github.com/terra-clan/proctor-engine/internal/events"
	"github.com/terra-clan/proctor-engine/internal/health"
	"github.com/terra-clan/proctor-engine/internal/session"
	"github.com/terra-clan/proctor-engine/internal/storage"
)

const requestTimeout = 60 * time.Second

// Options holds the dependencies of the API server
type Options struct {
	Config    config.ServerConfig
	Repo      storage.Repository
	Sessions  *session.Manager
	Feed      storage.Feed
	Tokens    *TokenService
	Health    *health.Registry
	Events    events.Publisher
	Clock     clock.PassiveClock
	DueWindow time.Duration
	TokenTTL  time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	repo           storage.Repository
	sessions       *session.Manager
	feed           storage.Feed
	tokens         *TokenService
	health         *health.Registry
	publisher      events.Publisher
	clk            clock.PassiveClock
	dueWindow      time.Duration
	tokenTTL       time.Duration
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Health == nil {
		opts.Health = health.NewRegistry()
	}
	if opts.DueWindow <= 0 {
		opts.DueWindow = 7 * 24 * time.Hour
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}

	s := &Server{
		config:         opts.Config,
		repo:           opts.Repo,
		sessions:       opts.Sessions,
		feed:           opts.Feed,
		tokens:         opts.Tokens,
		health:         opts.Health,
		publisher:      opts.Events,
		clk:            opts.Clock,
		dueWindow:      opts.DueWindow,
		tokenTTL:       opts.TokenTTL,
		authMiddleware: NewAuthMiddleware(opts.Repo),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		// Interviewer and admin clients (API key)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware.Authenticate)
			perm := s.authMiddleware.RequirePermission

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))

				r.With(perm("assessments:read")).Get("/assessments", s.handleListAssessments)
				r.With(perm("assessments:read")).Get("/assessments/{id}", s.handleGetAssessment)
				r.With(perm("assignments:write")).Post("/assessments/{id}/assignments", s.handleCreateAssignment)

				r.With(perm("assignments:read")).Get("/assignments", s.handleListAssignments)
				r.With(perm("assignments:read")).Get("/assignments/{id}", s.handleGetAssignment)
				r.With(perm("assignments:write")).Post("/assignments/{id}/token", s.handleIssueCandidateToken)
				r.With(perm("reports:read")).Get("/assignments/{id}/violations", s.handleViolationReport)
			})

			// Long-lived, no request timeout
			r.With(perm("reports:read")).Get("/assignments/{id}/violations/live", s.handleViolationFeed)
		})

		// Candidates (bearer token)
		r.Group(func(r chi.Router) {
			r.Use(CandidateAuth(s.tokens))

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))

				r.Post("/sessions", s.handleOpenSession)
				r.Get("/sessions/{id}", s.handleGetSession)
				r.Delete("/sessions/{id}", s.handleAbandonSession)
				r.Post("/sessions/{id}/grants", s.handleGrant)
				r.Post("/sessions/{id}/begin", s.handleBegin)
				r.Put("/sessions/{id}/answers/{questionId}", s.handleSetAnswer)
				r.Post("/sessions/{id}/submit", s.handleRequestSubmit)
				r.Post("/sessions/{id}/submit/confirm", s.handleConfirmSubmit)
				r.Post("/sessions/{id}/submit/cancel", s.handleCancelSubmit)
			})

			r.Get("/sessions/{id}/ws", s.handleSignalsWS)
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
