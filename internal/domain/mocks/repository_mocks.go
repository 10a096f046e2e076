package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

// MockSink is a configurable domain.Sink for testing.
type MockSink struct {
	mu           sync.Mutex
	SinkName     string
	Unconfigured bool
	// Fail makes every delivery report all events failed.
	Fail bool
	// FailErr is the error text used when Fail is set.
	FailErr string
	// Delay blocks each delivery before it returns.
	Delay time.Duration
	// Panic makes Deliver panic.
	Panic bool
	// DeliverFunc overrides the behaviour above when set.
	DeliverFunc func(ctx context.Context, events []domain.SecurityEvent) domain.Result

	Calls     int
	Delivered []domain.SecurityEvent
}

func (m *MockSink) Name() string {
	if m.SinkName == "" {
		return "mock"
	}
	return m.SinkName
}

func (m *MockSink) IsConfigured() bool { return !m.Unconfigured }

func (m *MockSink) Deliver(ctx context.Context, events []domain.SecurityEvent) domain.Result {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	if m.Panic {
		panic("mock sink panic")
	}
	if m.DeliverFunc != nil {
		return m.DeliverFunc(ctx, events)
	}
	if m.Fail {
		msg := m.FailErr
		if msg == "" {
			msg = "mock failure"
		}
		return domain.Result{FailedCount: len(events), Errors: []string{msg}}
	}

	m.mu.Lock()
	m.Delivered = append(m.Delivered, events...)
	m.mu.Unlock()
	return domain.SuccessResult(len(events))
}

// CallCount returns the number of Deliver calls so far.
func (m *MockSink) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// DeliveredEvents returns a copy of every event delivered successfully.
func (m *MockSink) DeliveredEvents() []domain.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SecurityEvent, len(m.Delivered))
	copy(out, m.Delivered)
	return out
}

// MockSubmitter records submitted events.
type MockSubmitter struct {
	mu        sync.Mutex
	Submitted []domain.SecurityEvent
}

func (m *MockSubmitter) Submit(ctx context.Context, event domain.SecurityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submitted = append(m.Submitted, event)
}

// Events returns a copy of the submitted events.
func (m *MockSubmitter) Events() []domain.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SecurityEvent, len(m.Submitted))
	copy(out, m.Submitted)
	return out
}

// MockEventSource is a mock implementation of domain.EventSource.
type MockEventSource struct {
	mu              sync.Mutex
	ReadBatchResult []domain.SourcedEvent
	AckedMessageIDs []string
	ReadErr         error
	AckErr          error
}

func (m *MockEventSource) ReadEventBatch(ctx context.Context, consumer string, count int) ([]domain.SourcedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	return m.ReadBatchResult, nil
}

func (m *MockEventSource) AcknowledgeEvents(ctx context.Context, messageIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedMessageIDs = append(m.AckedMessageIDs, messageIDs...)
	return nil
}

// MockAPIKeyRepository accepts exactly the keys in Valid.
type MockAPIKeyRepository struct {
	Valid map[string]bool
	Err   error
}

func (m *MockAPIKeyRepository) IsValid(ctx context.Context, key string) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	return m.Valid[key], nil
}

// MockDropArchive keeps archived events in memory.
type MockDropArchive struct {
	mu       sync.Mutex
	Archived []domain.SecurityEvent
	WriteErr error
}

func (m *MockDropArchive) Write(ctx context.Context, events ...domain.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Archived = append(m.Archived, events...)
	return nil
}

func (m *MockDropArchive) Replay(ctx context.Context, handler func(event domain.SecurityEvent) error) error {
	m.mu.Lock()
	events := make([]domain.SecurityEvent, len(m.Archived))
	copy(events, m.Archived)
	m.mu.Unlock()
	for _, e := range events {
		if err := handler(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockDropArchive) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Archived = nil
	return nil
}

// Count returns the number of archived events.
func (m *MockDropArchive) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Archived)
}
