package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

// Record is an orchestration event as read back from Kafka
type Record struct {
	Type      string          `json:"type"`
	AgentID   string          `json:"agentId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Time returns the event time
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Consumer reads orchestration events from one topic
type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string // empty reads without a consumer group
	Topic    string
	MinBytes int
	MaxBytes int
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6 // 10MB
	}

	log := logger.Get().With("component", "kafka_consumer", "topic", cfg.Topic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		StartOffset: kafka.LastOffset,
	})

	log.Infow("Kafka consumer created",
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
	)

	return &Consumer{
		reader: reader,
		log:    log,
	}
}

// RecordHandler processes one decoded event
type RecordHandler func(ctx context.Context, rec Record) error

// Consume reads until ctx is cancelled. Undecodable messages and handler
// failures are logged and skipped.
func (c *Consumer) Consume(ctx context.Context, handler RecordHandler) error {
	c.log.Info("Starting consumer...")

	for {
		msg, err := c.readMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Consumer stopped")
				return ctx.Err()
			}
			c.log.Errorw("Failed to read message", "error", err)
			continue
		}

		rec, err := decode(msg)
		if err != nil {
			c.log.Warnw("Skipping undecodable message", "offset", msg.Offset, "error", err)
			continue
		}

		if err := handler(ctx, rec); err != nil {
			c.log.Errorw("Failed to handle message", "type", rec.Type, "error", err)
		}
	}
}

// readMessage checks for shutdown before blocking on the reader
func (c *Consumer) readMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	default:
	}

	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return kafka.Message{}, ctx.Err()
		}
		return kafka.Message{}, err
	}
	return msg, nil
}

func decode(msg kafka.Message) (Record, error) {
	var rec Record
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		return Record{}, errors.Wrap(err, "decode event")
	}
	if rec.Type == "" {
		return Record{}, errors.Wrap(errors.ErrInvalidInput, "event without type")
	}
	return rec, nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
