package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/scrub-gateway/internal/auth"
	"github.com/ignite/scrub-gateway/internal/config"
	"github.com/ignite/scrub-gateway/internal/metrics"
	"github.com/ignite/scrub-gateway/internal/scrub"
)

// Deps are the components the HTTP layer routes to.
type Deps struct {
	Service  *scrub.Service
	Raw      *scrub.Raw
	Verifier auth.TokenVerifier
	Health   *HealthChecker
	Metrics  *metrics.Metrics
}

// Server represents the API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server. scrubAuth selects whether the
// /scrub-files routes require a bearer token.
func NewServer(cfg config.ServerConfig, scrubAuth string, deps Deps) *Server {
	h := NewHandlers(deps.Service, deps.Raw, int64(cfg.MaxUploadMB)<<20)
	return &Server{
		config: cfg,
		handler: SetupRoutes(h, deps, RouteOptions{
			AllowedOrigins:    cfg.AllowedOrigins,
			ScrubAuthRequired: scrubAuth == config.ScrubAuthRequired,
		}),
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// Generous timeouts for large uploads and downloads.
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
