package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/scrub-gateway/internal/auth"
	"github.com/ignite/scrub-gateway/internal/pkg/httputil"
)

// RouteOptions tune SetupRoutes.
type RouteOptions struct {
	AllowedOrigins    []string
	ScrubAuthRequired bool
}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, deps Deps, opts RouteOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httputil.Error(w, http.StatusNotFound, "not_found", "route not found")
	})

	// Health and metrics (no auth required)
	if deps.Health != nil {
		r.Get("/health", deps.Health.HandleHealth)
		r.Get("/health/live", deps.Health.HandleLiveness)
		r.Get("/health/ready", deps.Health.HandleReadiness)
	}
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	scrubAuth := auth.OptionalAuth(deps.Verifier)
	if opts.ScrubAuthRequired {
		scrubAuth = auth.RequireAuth(deps.Verifier)
	}
	r.Route("/scrub-files", func(r chi.Router) {
		r.Use(scrubAuth)
		r.Post("/upload", h.UploadFile)
		r.Get("/status/{id}", h.GetStatus)
		r.Get("/download/{id}", h.DownloadResults)
		r.Get("/list", h.ListFiles)
	})

	// Raw gateway routes always need a verified token.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(deps.Verifier))

		r.Route("/firestore", func(r chi.Router) {
			r.Post("/create", h.CreateDocument)
			r.Get("/{id}", h.GetDocument)
			r.Put("/{id}", h.UpdateDocument)
			r.Delete("/{id}", h.DeleteDocument)
		})

		r.Route("/storage", func(r chi.Router) {
			r.Post("/upload", h.UploadBlob)
			r.Get("/download/*", h.DownloadBlob)
			r.Head("/*", h.HeadBlob)
		})

		r.Post("/pubsub/publish", h.PublishMessage)
	})

	return r
}
