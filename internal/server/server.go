// Package server exposes the player-facing HTTP API and the pipeline
// trigger endpoint.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/playforge/reconcile-cli/internal/auth"
	"github.com/playforge/reconcile-cli/internal/config"
	"github.com/playforge/reconcile-cli/internal/model"
	"github.com/playforge/reconcile-cli/internal/store"
)

// RunFunc executes one pipeline run. The server never runs two concurrently.
type RunFunc func(ctx context.Context) (*model.RunResult, error)

// Server wires the store, token manager and pipeline trigger into an HTTP API.
type Server struct {
	cfg          config.ServerConfig
	store        store.Store
	auth         *auth.Manager
	run          RunFunc
	loginLimiter *rate.Limiter
	runGroup     singleflight.Group
}

// New creates a Server. run may be nil when the trigger endpoint is not needed.
func New(cfg config.ServerConfig, st store.Store, mgr *auth.Manager, run RunFunc) *Server {
	rps := cfg.LoginRPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.LoginBurst
	if burst <= 0 {
		burst = 10
	}
	return &Server{
		cfg:          cfg,
		store:        st,
		auth:         mgr,
		run:          run,
		loginLimiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Router builds the chi routing tree with all middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/track", s.handleTrack)
	r.Post("/run-pipeline", s.handleRunPipeline)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit(s.loginLimiter))
		r.Post("/login", s.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/earn", s.handleEarn)
		r.Get("/balance", s.handleBalance)
		r.Post("/event", s.handleEvent)
		r.Get("/events", s.handleEvents)
	})

	return r
}
