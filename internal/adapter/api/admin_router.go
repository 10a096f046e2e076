package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/V4T54L/siem-forwarder/internal/adapter/api/handler"
	"github.com/V4T54L/siem-forwarder/internal/adapter/api/middleware"
)

// NewAdminRouter creates the operator router. metricsHandler is mounted at
// /metrics when non-nil.
func NewAdminRouter(admin *handler.AdminHandler, reports *handler.SSEBroker, metricsHandler http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", admin.HealthCheck)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Get("/status", admin.Status)
		r.Get("/connectivity", admin.Connectivity)
		r.Post("/flush", admin.Flush)
		r.Get("/stream", admin.StreamStatus)
		r.Method(http.MethodGet, "/reports", reports)
	})

	return r
}
