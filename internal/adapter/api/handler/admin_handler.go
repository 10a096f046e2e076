package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/usecase"
)

// ForwarderAdmin is the operator surface of the forwarder.
type ForwarderAdmin interface {
	Flush(ctx context.Context) domain.Result
	TestConnectivity(ctx context.Context) map[string]domain.ConnectivityStatus
	BufferLen() int
	DroppedEvents() int64
	DroppedReports() int64
	Sinks() []usecase.SinkStatus
}

// StreamStatusReader reports on the inbound event stream.
type StreamStatusReader interface {
	Status(ctx context.Context) (*domain.StreamStatus, error)
}

// StatusResponse is returned by GET /admin/status.
type StatusResponse struct {
	BufferedEvents    int                  `json:"buffered_events"`
	MaxBufferedEvents int                  `json:"max_buffered_events"`
	DroppedEvents     int64                `json:"dropped_events"`
	DroppedReports    int64                `json:"dropped_reports"`
	Sinks             []usecase.SinkStatus `json:"sinks"`
}

// AdminHandler handles HTTP requests for forwarder administration.
type AdminHandler struct {
	forwarder ForwarderAdmin
	stream    StreamStatusReader
	logger    *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. stream may be nil when no
// inbound stream is configured.
func NewAdminHandler(forwarder ForwarderAdmin, stream StreamStatusReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{forwarder: forwarder, stream: stream, logger: logger.With("component", "admin_handler")}
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// Connectivity tests every configured sink.
// GET /admin/connectivity
func (h *AdminHandler) Connectivity(w http.ResponseWriter, r *http.Request) {
	status := h.forwarder.TestConnectivity(r.Context())

	code := http.StatusOK
	for _, s := range status {
		if !s.Connected {
			code = http.StatusServiceUnavailable
			break
		}
	}
	respondWithJSON(w, h.logger, code, status)
}

// Flush forces delivery of the buffered events.
// POST /admin/flush
func (h *AdminHandler) Flush(w http.ResponseWriter, r *http.Request) {
	result := h.forwarder.Flush(r.Context())
	h.logger.Info("manual flush", "processed", result.ProcessedCount, "failed", result.FailedCount)
	respondWithJSON(w, h.logger, http.StatusOK, result)
}

// Status reports buffer depth, drop counters and sinks.
// GET /admin/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, StatusResponse{
		BufferedEvents:    h.forwarder.BufferLen(),
		MaxBufferedEvents: domain.MaxBufferedEvents,
		DroppedEvents:     h.forwarder.DroppedEvents(),
		DroppedReports:    h.forwarder.DroppedReports(),
		Sinks:             h.forwarder.Sinks(),
	})
}

// StreamStatus reports on the inbound Redis stream.
// GET /admin/stream
func (h *AdminHandler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		http.Error(w, "event stream is not configured", http.StatusNotFound)
		return
	}

	status, err := h.stream.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to get stream status", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, status)
}
