package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/V4T54L/siem-forwarder/internal/adapter/api/middleware"
	"github.com/V4T54L/siem-forwarder/internal/adapter/metrics"
	"github.com/V4T54L/siem-forwarder/internal/domain"
)

const maxRejectionDetails = 20

// EventIngester accepts one producer event.
type EventIngester interface {
	Ingest(ctx context.Context, event domain.SecurityEvent) (domain.SecurityEvent, error)
}

// IngestResponse is the body returned for every accepted request.
type IngestResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	IDs      []string `json:"ids,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

func (r *IngestResponse) reject(err error) {
	r.Rejected++
	if len(r.Errors) < maxRejectionDetails {
		r.Errors = append(r.Errors, err.Error())
	}
}

// IngestHandler handles HTTP requests for security event ingestion.
type IngestHandler struct {
	ingester     EventIngester
	logger       *slog.Logger
	maxEventSize int64
	metrics      *metrics.IngestMetrics
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(ingester EventIngester, logger *slog.Logger, maxEventSize int64, m *metrics.IngestMetrics) *IngestHandler {
	return &IngestHandler{
		ingester:     ingester,
		logger:       logger.With("component", "ingest_handler"),
		maxEventSize: maxEventSize,
		metrics:      m,
	}
}

// ServeHTTP processes POST /v1/events. A single JSON object is one event;
// application/x-ndjson carries one event per line.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	// Enforce max body size
	r.Body = http.MaxBytesReader(w, r.Body, h.maxEventSize)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = r.Header.Get("Content-Type")
	}

	org, _ := middleware.OrganizationFromContext(r.Context())

	var resp IngestResponse
	switch mediaType {
	case "application/json":
		err = h.handleSingleJSON(r.Context(), r.Body, org, &resp)
	case "application/x-ndjson":
		err = h.handleNDJSON(r.Context(), r.Body, org, &resp)
	default:
		h.count("error_media_type", 1)
		http.Error(w, "Unsupported Media Type: "+mediaType, http.StatusUnsupportedMediaType)
		return
	}

	if err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			h.count("error_size", 1)
			http.Error(w, "http: request body too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, domain.ErrInvalidEvent):
			h.count("error_invalid", 1)
			h.respondWithJSON(w, http.StatusBadRequest, resp)
		default:
			h.count("error_parse", 1)
			h.logger.Warn("failed to process ingest request", "error", err)
			http.Error(w, "Bad Request", http.StatusBadRequest)
		}
		return
	}

	status := http.StatusAccepted
	if resp.Accepted == 0 && resp.Rejected > 0 {
		status = http.StatusBadRequest
	}
	h.respondWithJSON(w, status, resp)
}

func (h *IngestHandler) handleSingleJSON(ctx context.Context, body io.Reader, org string, resp *IngestResponse) error {
	rawBody, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	h.addBytes(len(rawBody))

	var event domain.SecurityEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return err
	}

	accepted, err := h.ingest(ctx, event, org)
	if err != nil {
		resp.reject(err)
		return err
	}
	resp.Accepted = 1
	resp.IDs = []string{accepted.ID}
	return nil
}

func (h *IngestHandler) handleNDJSON(ctx context.Context, body io.Reader, org string, resp *IngestResponse) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), int(h.maxEventSize)+1)

	for scanner.Scan() {
		line := scanner.Bytes()
		h.addBytes(len(line) + 1)
		if len(line) == 0 {
			continue
		}

		var event domain.SecurityEvent
		if err := json.Unmarshal(line, &event); err != nil {
			h.count("error_parse", 1)
			resp.reject(err)
			continue
		}

		accepted, err := h.ingest(ctx, event, org)
		if err != nil {
			h.count("error_invalid", 1)
			resp.reject(err)
			continue
		}
		resp.Accepted++
		resp.IDs = append(resp.IDs, accepted.ID)
	}

	return scanner.Err()
}

func (h *IngestHandler) ingest(ctx context.Context, event domain.SecurityEvent, org string) (domain.SecurityEvent, error) {
	// A pinned token decides the tenant, not the payload.
	if org != "" {
		event.OrganizationID = org
	}
	accepted, err := h.ingester.Ingest(ctx, event)
	if err == nil {
		h.count("accepted", 1)
	}
	return accepted, err
}

func (h *IngestHandler) count(status string, n int) {
	if h.metrics != nil {
		h.metrics.EventsTotal.WithLabelValues(status).Add(float64(n))
	}
}

func (h *IngestHandler) addBytes(n int) {
	if h.metrics != nil {
		h.metrics.BytesTotal.Add(float64(n))
	}
}

func (h *IngestHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	respondWithJSON(w, h.logger, code, payload)
}

func respondWithJSON(w http.ResponseWriter, logger *slog.Logger, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
