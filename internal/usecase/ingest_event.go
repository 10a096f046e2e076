package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/siem-forwarder/internal/adapter/pii"
	"github.com/V4T54L/siem-forwarder/internal/domain"
)

// IngestEventUseCase handles the business logic for accepting a security
// event from a producer and handing it to the forwarder.
type IngestEventUseCase struct {
	submitter domain.Submitter
	redactor  *pii.Redactor
	logger    *slog.Logger
}

// NewIngestEventUseCase creates a new IngestEventUseCase.
func NewIngestEventUseCase(submitter domain.Submitter, redactor *pii.Redactor, logger *slog.Logger) *IngestEventUseCase {
	return &IngestEventUseCase{
		submitter: submitter,
		redactor:  redactor,
		logger:    logger,
	}
}

// Ingest enriches, validates, redacts and submits event. It returns the
// event as submitted. Only validation errors are returned; delivery is
// fire-and-forget from here on.
func (uc *IngestEventUseCase) Ingest(ctx context.Context, event domain.SecurityEvent) (domain.SecurityEvent, error) {
	// 1. Enrich with server-side data
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// 2. Validate
	if err := event.Validate(); err != nil {
		uc.logger.Debug("rejecting invalid event", "event_id", event.ID, "error", err)
		return event, err
	}

	// 3. Redact PII
	if uc.redactor != nil {
		event, _ = uc.redactor.Redact(event)
	}

	// 4. Hand off to the forwarder
	uc.submitter.Submit(ctx, event)
	return event, nil
}
