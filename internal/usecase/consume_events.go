package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

const (
	defaultConsumeBatchSize = 100
	defaultConsumeBackoff   = 1 * time.Second
)

// ConsumeEventsUseCase reads security events that other services published to
// the event stream and feeds them through ingestion.
type ConsumeEventsUseCase struct {
	source    domain.EventSource
	ingester  *IngestEventUseCase
	logger    *slog.Logger
	consumer  string
	batchSize int
}

// NewConsumeEventsUseCase creates a new use case for consuming the event stream.
func NewConsumeEventsUseCase(source domain.EventSource, ingester *IngestEventUseCase, logger *slog.Logger, consumer string, batchSize int) *ConsumeEventsUseCase {
	if batchSize <= 0 {
		batchSize = defaultConsumeBatchSize
	}
	return &ConsumeEventsUseCase{
		source:    source,
		ingester:  ingester,
		logger:    logger.With("component", "event_consumer"),
		consumer:  consumer,
		batchSize: batchSize,
	}
}

// ProcessBatch reads one batch, ingests every decodable event and
// acknowledges the whole batch. Malformed or invalid events are acknowledged
// too so they are not redelivered forever. It returns the number ingested.
func (uc *ConsumeEventsUseCase) ProcessBatch(ctx context.Context) (int, error) {
	// 1. Read a batch of events from the stream
	batch, err := uc.source.ReadEventBatch(ctx, uc.consumer, uc.batchSize)
	if err != nil {
		uc.logger.Error("failed to read event batch from stream", "error", err)
		return 0, err
	}

	if len(batch) == 0 {
		return 0, nil // No new events, not an error
	}

	// 2. Ingest
	ingested := 0
	messageIDs := make([]string, 0, len(batch))
	for _, msg := range batch {
		messageIDs = append(messageIDs, msg.MessageID)
		if msg.Event == nil {
			uc.logger.Warn("skipping malformed stream message", "message_id", msg.MessageID)
			continue
		}
		if _, err := uc.ingester.Ingest(ctx, *msg.Event); err != nil {
			uc.logger.Warn("skipping invalid stream event", "message_id", msg.MessageID, "error", err)
			continue
		}
		ingested++
	}

	// 3. Acknowledge the messages in the stream
	if err := uc.source.AcknowledgeEvents(ctx, messageIDs...); err != nil {
		uc.logger.Error("failed to acknowledge stream messages", "error", err)
		// They will be redelivered; the forwarder may see duplicates.
		return ingested, err
	}

	uc.logger.Debug("processed stream batch", "read", len(batch), "ingested", ingested)
	return ingested, nil
}

// Run polls the stream until ctx is cancelled, backing off after errors.
func (uc *ConsumeEventsUseCase) Run(ctx context.Context, pollInterval time.Duration) {
	uc.logger.Info("event consumer started", "consumer", uc.consumer)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("event consumer stopped")
			return
		case <-ticker.C:
		}

		// Drain while batches keep coming back full.
		for {
			n, err := uc.ProcessBatch(ctx)
			if err != nil {
				select {
				case <-time.After(defaultConsumeBackoff):
				case <-ctx.Done():
					return
				}
				break
			}
			if n < uc.batchSize || ctx.Err() != nil {
				break
			}
		}
	}
}
