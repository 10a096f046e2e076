package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/pkg/config"
)

const kafkaName = "kafka"

func init() {
	Register(kafkaName, func(cfg *config.Config, deps Dependencies) (domain.Sink, error) {
		if !cfg.Kafka.Enabled {
			return nil, nil
		}
		return NewKafkaSink(cfg.Kafka, deps.Logger), nil
	})
}

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each event as a JSON message keyed by organization id.
type KafkaSink struct {
	topic  string
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaSink creates a sink backed by a synchronous kafka.Writer.
func NewKafkaSink(cfg config.KafkaConfig, logger *slog.Logger) *KafkaSink {
	var writer MessageWriter
	if len(cfg.Brokers) > 0 && cfg.Topic != "" {
		writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: DefaultHTTPTimeout,
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return NewKafkaSinkWithWriter(cfg.Topic, writer, logger)
}

// NewKafkaSinkWithWriter creates a sink around an existing writer.
func NewKafkaSinkWithWriter(topic string, writer MessageWriter, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{
		topic:  topic,
		writer: writer,
		logger: logger.With("component", "kafka_sink"),
	}
}

func (k *KafkaSink) Name() string { return kafkaName }

func (k *KafkaSink) IsConfigured() bool { return k.writer != nil }

func (k *KafkaSink) Deliver(ctx context.Context, events []domain.SecurityEvent) domain.Result {
	if !k.IsConfigured() {
		return domain.NotConfiguredResult(len(events), kafkaName)
	}
	if len(events) == 0 {
		return domain.SuccessResult(0)
	}

	result := domain.Result{}
	msgs := make([]kafka.Message, 0, len(events))
	ids := make([]string, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(newEventDocument(e))
		if err != nil {
			result.Add(domain.FailedResult(1, fmt.Errorf("event %s: %w", e.ID, err)))
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.OrganizationID),
			Value: value,
			Time:  e.Timestamp,
		})
		ids = append(ids, e.ID)
	}

	err := k.writer.WriteMessages(ctx, msgs...)
	var writeErrs kafka.WriteErrors
	switch {
	case err == nil:
		result.Add(domain.SuccessResult(len(msgs)))
	case errors.As(err, &writeErrs) && len(writeErrs) == len(msgs):
		for i, werr := range writeErrs {
			if werr == nil {
				result.Add(domain.SuccessResult(1))
				continue
			}
			result.Add(domain.FailedResult(1, &domain.TransportError{Sink: kafkaName, Op: "write " + ids[i], Err: werr}))
		}
	default:
		result.Add(domain.FailedResult(len(msgs), &domain.TransportError{Sink: kafkaName, Op: "write", Err: err}))
	}

	if result.FailedCount > 0 {
		k.logger.Warn("kafka publish incomplete", "topic", k.topic, "failed", result.FailedCount, "total", len(events))
	}
	return result
}

// Close flushes and closes the underlying writer.
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
