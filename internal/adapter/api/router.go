package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/V4T54L/siem-forwarder/internal/adapter/api/handler"
	"github.com/V4T54L/siem-forwarder/internal/adapter/api/middleware"
	"github.com/V4T54L/siem-forwarder/internal/adapter/metrics"
	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/pkg/config"
)

// NewRouter creates and configures the producer-facing ingest router.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	apiKeyRepo domain.APIKeyRepository,
	ingester handler.EventIngester,
	m *metrics.IngestMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)

	ingestHandler := handler.NewIngestHandler(ingester, logger, cfg.MaxEventSize, m)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(apiKeyRepo, cfg.Auth.JWTSecret, logger))
		r.Method(http.MethodPost, "/v1/events", ingestHandler)
	})

	return r
}
