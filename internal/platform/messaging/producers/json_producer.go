package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/vcs-invoice-reconciler/internal/config"
)

// JSONProducer publishes JSON encoded values keyed by record key
type JSONProducer struct {
	logger   *slog.Logger
	writer   KafkaWriter     // Interface for testability
	topic    string
	recorder PublishRecorder // optional
}

// NewRequeueProducer creates the producer the API gateway uses to hand requeue
// requests to the worker
func NewRequeueProducer(logger *slog.Logger, cfg *config.KafkaConfig) (*JSONProducer, error) {
	if cfg.RequeueTopic == "" {
		return nil, fmt.Errorf("kafka requeue topic is not configured")
	}
	return newJSONProducer(logger, cfg, cfg.RequeueTopic)
}

// NewRepairProducer creates the producer the sweeper uses to announce repair actions
func NewRepairProducer(logger *slog.Logger, cfg *config.KafkaConfig) (*JSONProducer, error) {
	if cfg.RepairTopic == "" {
		return nil, fmt.Errorf("kafka repair topic is not configured")
	}
	return newJSONProducer(logger, cfg, cfg.RepairTopic)
}

func newJSONProducer(logger *slog.Logger, cfg *config.KafkaConfig, topic string) (*JSONProducer, error) {
	if err := ensureTopic(cfg, topic, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure topic %s exists: %w", topic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // same record key, same partition
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.MaxWait,
	}

	return &JSONProducer{
		logger: logger.With("component", "kafka_producer", "topic", topic),
		writer: writer,
		topic:  topic,
	}, nil
}

// NewJSONProducerWithWriter creates a producer over an existing writer
func NewJSONProducerWithWriter(logger *slog.Logger, writer KafkaWriter, topic string) *JSONProducer {
	return &JSONProducer{logger: logger, writer: writer, topic: topic}
}

// WithRecorder counts every publish attempt on r
func (p *JSONProducer) WithRecorder(r PublishRecorder) *JSONProducer {
	if r != nil {
		p.recorder = r
	}
	return p
}

// Topic returns the destination topic
func (p *JSONProducer) Topic() string {
	return p.topic
}

// Publish writes value as JSON under key and waits for the broker acknowledgement
func (p *JSONProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", p.topic, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	err = p.writer.WriteMessages(ctx, msg)
	if p.recorder != nil {
		p.recorder.RecordKafkaPublish(p.topic, err == nil)
	}
	if err != nil {
		p.logger.Error("Failed to publish message", "key", key, "error", err)
		return fmt.Errorf("failed to publish message to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published message", "key", key)
	return nil
}

func (p *JSONProducer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
