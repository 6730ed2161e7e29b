// Package server exposes the allocation tree engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/claims"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/config"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/metrics"
)

/*
Server serves claim lookups and tree administration.

Claim API (public, rate limited per client IP):
  GET /eligibility/{wallet}:
    - Looks the wallet up in the active tree
    - Response: { walletAddress, eligible, treeId, root, amount, index, proof }
    - A wallet missing from the tree, or no active tree at all, is eligible=false with 200

  POST /verify:
    - Request: { walletAddress, amount, proof, root? }
    - Without root the proof is checked against the active tree
    - Response: { valid, root }

Tree administration (requires "Authorization: Bearer <admin token>" on writes):
  GET  /trees                   summaries of all trees, oldest first
  GET  /trees/active            summary of the active tree
  GET  /trees/{id}              summary, or full tree with ?leaves=true
  GET  /trees/{id}/integrity    integrity validation result
  POST /trees                   { name, description, createdBy, labels, allocations }
  POST /trees/{id}/activate     { activatedBy }

Operational:
  GET /health   store reachability
  GET /metrics  Prometheus metrics

Write routes answer 403 when no admin token is configured.
*/
type Server struct {
	engine      *claims.Engine
	metrics     *metrics.Metrics
	rateLimiter *RateLimiter
	adminToken  string
	logger      *zap.Logger
	router      chi.Router
	httpServer  *http.Server
}

// NewServer creates a new HTTP server for the engine
func NewServer(engine *claims.Engine, cfg *config.ClaimsServerConfig, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		engine:      engine,
		metrics:     m,
		rateLimiter: NewRateLimiter(&cfg.RateLimit, m, logger),
		adminToken:  cfg.AdminToken,
		logger:      logger,
	}
	s.router = s.routes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.InstrumentHandler)
	}

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimiter.Handler)
		r.Get("/eligibility/{wallet}", s.handleEligibility)
		r.Post("/verify", s.handleVerify)
	})

	r.Route("/trees", func(r chi.Router) {
		r.Get("/", s.handleListTrees)
		r.Get("/active", s.handleGetActiveTree)
		r.Get("/{id}", s.handleGetTree)
		r.Get("/{id}/integrity", s.handleValidateTree)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/", s.handleCreateTree)
			r.Post("/{id}/activate", s.handleActivateTree)
		})
	})

	return r
}

// Start begins serving in the background
func (s *Server) Start() error {
	s.logger.Sugar().Infow("Starting claims server", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("Claims server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx is done
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler for testing
func (s *Server) GetHandler() http.Handler {
	return s.router
}
