package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/siem-forwarder/internal/domain"
)

const (
	DefaultStream = "security_events"
	DefaultGroup  = "forwarder_group"

	payloadField = "payload"
)

// StreamConfig names the stream and consumer group to use.
type StreamConfig struct {
	Stream string
	Group  string
	// Block is how long XREADGROUP waits for new messages. A negative value
	// returns immediately.
	Block time.Duration
}

// EventStream implements domain.EventSource on a Redis Stream. Other platform
// services XADD JSON-encoded security events under the "payload" field.
type EventStream struct {
	client *redis.Client
	logger *slog.Logger
	stream string
	group  string
	block  time.Duration
}

// NewEventStream creates the stream reader and its consumer group.
func NewEventStream(ctx context.Context, client *redis.Client, logger *slog.Logger, cfg StreamConfig) (*EventStream, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Block == 0 {
		cfg.Block = 2 * time.Second
	}

	s := &EventStream{
		client: client,
		logger: logger.With("component", "redis_event_stream"),
		stream: cfg.Stream,
		group:  cfg.Group,
		block:  cfg.Block,
	}
	if err := s.setupConsumerGroup(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *EventStream) setupConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !isRedisBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Publish appends events to the stream.
func (s *EventStream) Publish(ctx context.Context, events ...domain.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{payloadField: payload},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

// ReadEventBatch reads new messages for consumer. Messages whose payload
// cannot be decoded are returned with a nil Event so the caller can
// acknowledge and skip them.
func (s *EventStream) ReadEventBatch(ctx context.Context, consumer string, count int) ([]domain.SourcedEvent, error) {
	args := &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    int64(count),
		Block:    s.block,
	}

	streams, err := s.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	messages := streams[0].Messages
	events := make([]domain.SourcedEvent, 0, len(messages))
	for _, msg := range messages {
		sourced := domain.SourcedEvent{MessageID: msg.ID}

		payload, ok := msg.Values[payloadField].(string)
		if !ok {
			s.logger.Warn("Invalid message format in stream", "message_id", msg.ID)
			events = append(events, sourced)
			continue
		}

		var event domain.SecurityEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			s.logger.Warn("Failed to unmarshal security event from stream", "message_id", msg.ID, "error", err)
			events = append(events, sourced)
			continue
		}
		sourced.Event = &event
		events = append(events, sourced)
	}

	return events, nil
}

// AcknowledgeEvents acknowledges processed messages in the stream.
func (s *EventStream) AcknowledgeEvents(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.stream, s.group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK messages in redis: %w", err)
	}
	return nil
}

// Status reports stream length, consumer groups and the pending summary of
// the forwarder's group.
func (s *EventStream) Status(ctx context.Context) (*domain.StreamStatus, error) {
	length, err := s.client.XLen(ctx, s.stream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get length of stream %s: %w", s.stream, err)
	}

	groups, err := s.client.XInfoGroups(ctx, s.stream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get group info for stream %s: %w", s.stream, err)
	}

	status := &domain.StreamStatus{
		Stream: s.stream,
		Length: length,
		Groups: make([]domain.ConsumerGroupInfo, len(groups)),
	}
	for i, g := range groups {
		status.Groups[i] = domain.ConsumerGroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
		}
	}

	pending, err := s.client.XPending(ctx, s.stream, s.group).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending summary for stream %s, group %s: %w", s.stream, s.group, err)
	}
	status.Pending = &domain.PendingMessageSummary{
		Total:          pending.Count,
		FirstMessageID: pending.Lower,
		LastMessageID:  pending.Higher,
		ConsumerTotals: pending.Consumers,
	}
	return status, nil
}

func isRedisBusyGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
