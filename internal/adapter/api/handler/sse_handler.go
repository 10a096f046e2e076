package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

const (
	clientBuffer      = 16
	keepAliveInterval = 15 * time.Second
)

// SSEBroker fans flush reports out to connected operators as server-sent events.
type SSEBroker struct {
	logger  *slog.Logger
	clients map[chan []byte]struct{}
	mu      sync.RWMutex
	closed  bool
}

// NewSSEBroker creates a new SSEBroker. Call Run to start feeding it.
func NewSSEBroker(logger *slog.Logger) *SSEBroker {
	return &SSEBroker{
		logger:  logger.With("component", "sse_broker"),
		clients: make(map[chan []byte]struct{}),
	}
}

// Run logs and broadcasts every report until reports is closed or ctx ends.
// Connected clients are disconnected when it returns.
func (b *SSEBroker) Run(ctx context.Context, reports <-chan domain.FlushReport) {
	defer b.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-reports:
			if !ok {
				return
			}
			b.logReport(report)

			jsonData, err := json.Marshal(report)
			if err != nil {
				b.logger.Error("Failed to marshal flush report", "error", err)
				continue
			}
			b.broadcast(jsonData)
		}
	}
}

// ServeHTTP handles new client connections for the SSE stream.
func (b *SSEBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	messageChan := make(chan []byte, clientBuffer)
	if !b.addClient(messageChan) {
		http.Error(w, "report stream closed", http.StatusServiceUnavailable)
		return
	}
	defer b.removeClient(messageChan)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case msg, ok := <-messageChan:
			if !ok {
				return // Broker shut down
			}
			fmt.Fprintf(w, "event: flush\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *SSEBroker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *SSEBroker) logReport(report domain.FlushReport) {
	attrs := []any{
		"trigger", report.Trigger,
		"batch_size", report.BatchSize,
		"processed", report.Result.ProcessedCount,
		"failed", report.Result.FailedCount,
		"duration_ms", report.Duration.Milliseconds(),
	}
	if report.Result.FailedCount > 0 {
		b.logger.Warn("flush completed with failures", append(attrs, "errors", report.Result.Errors)...)
		return
	}
	b.logger.Debug("flush completed", attrs...)
}

func (b *SSEBroker) addClient(client chan []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[client] = struct{}{}
	b.logger.Info("SSE client connected")
	return true
}

func (b *SSEBroker) removeClient(client chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client)
		b.logger.Info("SSE client disconnected")
	}
}

func (b *SSEBroker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for client := range b.clients {
		delete(b.clients, client)
		close(client)
	}
}

func (b *SSEBroker) broadcast(msg []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client <- msg:
		default:
			// Slow clients miss reports rather than stall the broker.
		}
	}
}
