package server

import (
	"log/slog"
	"net/http"

	"github.com/djh00t/klingon-transcribe/internal/observe"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Metrics records request metrics and spans when set.
	Metrics *observe.Metrics
	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /transcribe", h.Transcribe)
	mux.HandleFunc("POST /jobs", h.CreateJob)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.CancelJob)
	mux.HandleFunc("POST /workflows", h.CreateWorkflow)
	mux.HandleFunc("GET /workflows", h.ListWorkflows)
	mux.HandleFunc("GET /workflows/{name}", h.GetWorkflow)
	mux.HandleFunc("POST /process", h.Process)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(logger),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, observe.Middleware(cfg.Metrics))
	}
	middlewares = append(middlewares,
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return ChainMiddleware(middlewares...)(mux)
}
