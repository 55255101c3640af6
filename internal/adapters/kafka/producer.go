package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"

	"onboardr/internal/metrics"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

// Producer publishes orchestration events to Kafka. It implements
// orchestration.EventSink.
type Producer struct {
	brokers    []string
	agentTopic string
	log        *logger.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	Brokers []string
	Topic   string // agent events topic
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.Topic == "" {
		cfg.Topic = TopicAgentEvents
	}
	return &Producer{
		brokers:    cfg.Brokers,
		agentTopic: cfg.Topic,
		writers:    make(map[string]*kafka.Writer),
		log:        logger.Get().Component("kafka_producer"),
	}
}

// getWriter returns or creates a writer for a topic
func (p *Producer) getWriter(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // keep one agent's events ordered
		AllowAutoTopicCreation: true,
	}

	p.writers[topic] = w
	return w
}

// Publish implements orchestration.EventSink
func (p *Producer) Publish(ctx context.Context, ev orchestration.Event) error {
	topic := topicFor(ev.Type, p.agentTopic)

	msg, err := encode(ev)
	if err != nil {
		return err
	}

	err = p.getWriter(topic).WriteMessages(ctx, msg)
	metrics.RecordKafkaMessage(topic, err)
	if err != nil {
		p.log.Errorw("Failed to publish event", "topic", topic, "type", ev.Type, "error", err)
		return errors.Wrapf(err, "publish to %s", topic)
	}

	p.log.Debugw("Published event", "topic", topic, "type", ev.Type, "agent", ev.AgentID)
	return nil
}

// encode keys the message by agent id so partitions preserve per-agent order
func encode(ev orchestration.Event) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, errors.Wrapf(err, "encode %s event", ev.Type)
	}
	return kafka.Message{
		Key:   []byte(ev.AgentID),
		Value: data,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}

// Close closes all writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs errors.MultiError
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.log.Errorw("Failed to close writer", "topic", topic, "error", err)
			errs.Add(err)
		}
	}
	return errs.ToError()
}
