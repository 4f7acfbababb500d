package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/maauso/mediagen-api/internal/telemetry"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// ServiceName names the HTTP server spans.
	ServiceName string
	// FilesDir, when set, is served under /files/ for the local object store.
	FilesDir string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		ServiceName:    "mediagen-api",
	}
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggingMiddleware(logger))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))
	if cfg.ServiceName != "" {
		r.Use(telemetry.HTTPMiddleware(cfg.ServiceName))
	}

	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generations", h.CreateGeneration)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Get("/{id}", h.GetTask)
			r.Delete("/{id}", h.DeleteTask)
			r.Post("/{id}/cancel", h.CancelTask)
			r.Get("/{id}/artifacts", h.ListArtifacts)
		})
	})

	if cfg.FilesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.FilesDir))))
	}

	return r
}
