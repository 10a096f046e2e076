package connector

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient() *HTTPClient {
	return NewHTTPClient(HTTPClientConfig{Timeout: 2 * time.Second}, discardLogger())
}

func testEvents(n int) []domain.SecurityEvent {
	events := make([]domain.SecurityEvent, n)
	for i := range events {
		events[i] = domain.SecurityEvent{
			ID:             fmt.Sprintf("evt-%d", i),
			Timestamp:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Severity:       domain.SeverityHigh,
			Category:       "identity",
			EventType:      "credential_exposed",
			Source:         "scanner",
			OrganizationID: "org-1",
			Title:          "Creds Exposed",
			Description:    "token found in repository",
		}
	}
	return events
}
