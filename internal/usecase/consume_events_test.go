package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/V4T54L/siem-forwarder/internal/adapter/pii"
	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/domain/mocks"
)

func TestConsumeEventsUseCase_ProcessBatch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	redactor := pii.NewRedactor(nil, logger)

	valid := newEvent(1)
	invalid := newEvent(2)
	invalid.OrganizationID = ""
	batch := []domain.SourcedEvent{
		{MessageID: "1-0", Event: &valid},
		{MessageID: "2-0", Event: nil},
		{MessageID: "3-0", Event: &invalid},
	}

	t.Run("Successful Processing", func(t *testing.T) {
		source := &mocks.MockEventSource{ReadBatchResult: batch}
		submitter := &mocks.MockSubmitter{}
		uc := NewConsumeEventsUseCase(source, NewIngestEventUseCase(submitter, redactor, logger), logger, "consumer-1", 10)

		count, err := uc.ProcessBatch(context.Background())

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 ingested event, got %d", count)
		}
		if len(submitter.Events()) != 1 || submitter.Events()[0].ID != valid.ID {
			t.Errorf("expected only the valid event to be submitted, got %v", submitter.Events())
		}
		// Malformed and invalid messages are acknowledged as well.
		if len(source.AckedMessageIDs) != 3 {
			t.Errorf("expected 3 messages to be acked, got %d", len(source.AckedMessageIDs))
		}
	})

	t.Run("Empty Batch", func(t *testing.T) {
		source := &mocks.MockEventSource{}
		uc := NewConsumeEventsUseCase(source, NewIngestEventUseCase(&mocks.MockSubmitter{}, redactor, logger), logger, "consumer-1", 10)

		count, err := uc.ProcessBatch(context.Background())
		if err != nil || count != 0 {
			t.Errorf("expected (0, nil), got (%d, %v)", count, err)
		}
		if len(source.AckedMessageIDs) != 0 {
			t.Error("nothing should be acked for an empty batch")
		}
	})

	t.Run("Stream Read Error", func(t *testing.T) {
		source := &mocks.MockEventSource{ReadErr: errors.New("redis connection failed")}
		uc := NewConsumeEventsUseCase(source, NewIngestEventUseCase(&mocks.MockSubmitter{}, redactor, logger), logger, "consumer-1", 10)

		count, err := uc.ProcessBatch(context.Background())
		if err == nil {
			t.Fatal("expected an error, got nil")
		}
		if count != 0 {
			t.Errorf("expected processed count to be 0, got %d", count)
		}
	})

	t.Run("Ack Error", func(t *testing.T) {
		source := &mocks.MockEventSource{ReadBatchResult: batch, AckErr: errors.New("NOGROUP")}
		submitter := &mocks.MockSubmitter{}
		uc := NewConsumeEventsUseCase(source, NewIngestEventUseCase(submitter, redactor, logger), logger, "consumer-1", 10)

		count, err := uc.ProcessBatch(context.Background())
		if err == nil {
			t.Fatal("expected an ack error")
		}
		if count != 1 || len(submitter.Events()) != 1 {
			t.Errorf("events are submitted even when the ack fails, got %d", count)
		}
	})
}

func TestConsumeEventsUseCase_Run(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	valid := newEvent(1)
	source := &mocks.MockEventSource{ReadBatchResult: []domain.SourcedEvent{{MessageID: "1-0", Event: &valid}}}
	submitter := &mocks.MockSubmitter{}
	uc := NewConsumeEventsUseCase(source, NewIngestEventUseCase(submitter, nil, logger), logger, "consumer-1", 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		uc.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return len(submitter.Events()) > 0 })
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
