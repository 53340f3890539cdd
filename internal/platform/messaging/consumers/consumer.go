package consumers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/vcs-invoice-reconciler/internal/config"
)

// ErrPoisonMessage marks a message that can never be processed. Handlers wrap it so
// the consumer parks the message on the DLQ and commits past it.
var ErrPoisonMessage = errors.New("poison message")

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer defines the message queue consumer interface
type Consumer interface {
	Subscribe(ctx context.Context, handler MessageHandler) error
	Close() error
}

// KafkaReader wraps kafka.Reader methods for testing
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterSink receives poison messages
type DeadLetterSink interface {
	PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error
}

// ConsumeRecorder counts handled messages per topic
type ConsumeRecorder interface {
	RecordKafkaConsume(topic string, success bool)
}

// KafkaConsumer implements Consumer using Kafka
type KafkaConsumer struct {
	reader     KafkaReader
	dlq        DeadLetterSink
	recorder   ConsumeRecorder // optional
	logger     *slog.Logger
	retryDelay time.Duration
	done       chan struct{}
}

// NewKafkaConsumer creates a consumer of the requeue topic. dlq may be nil.
func NewKafkaConsumer(logger *slog.Logger, cfg *config.KafkaConfig, dlq DeadLetterSink) *KafkaConsumer {
	startOffset := int64(kafka.FirstOffset)
	if cfg.StartOffset == kafka.LastOffset {
		startOffset = kafka.LastOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{cfg.Brokers},
		Topic:       cfg.RequeueTopic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: startOffset,
	})
	return NewKafkaConsumerWithReader(logger, reader, dlq)
}

// NewKafkaConsumerWithReader creates a consumer over an existing reader
func NewKafkaConsumerWithReader(logger *slog.Logger, reader KafkaReader, dlq DeadLetterSink) *KafkaConsumer {
	return &KafkaConsumer{
		reader:     reader,
		dlq:        dlq,
		logger:     logger.With("component", "kafka_consumer"),
		retryDelay: time.Second,
		done:       make(chan struct{}),
	}
}

// WithRecorder counts every handled message on r
func (c *KafkaConsumer) WithRecorder(r ConsumeRecorder) *KafkaConsumer {
	c.recorder = r
	return c
}

// Subscribe starts consuming in the background. Messages whose handler fails are
// not committed and are redelivered, except poison messages which go to the DLQ.
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Subscribed to Kafka topic")

	go func() {
		defer close(c.done)
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.Info("Context canceled, stopping consumer")
					return
				}
				c.logger.Error("Failed to fetch message from Kafka", "error", err)
				if !c.sleep(ctx) {
					return
				}
				continue
			}

			c.logger.Debug("Received message from Kafka",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
			)

			err = handler(ctx, msg.Key, msg.Value)
			if c.recorder != nil {
				c.recorder.RecordKafkaConsume(msg.Topic, err == nil)
			}
			if err != nil {
				if !errors.Is(err, ErrPoisonMessage) {
					c.logger.Error("Failed to process message, will not commit offset",
						"topic", msg.Topic,
						"offset", msg.Offset,
						"key", string(msg.Key),
						"error", err,
					)
					if !c.sleep(ctx) {
						return
					}
					continue
				}
				c.parkPoison(ctx, msg, err)
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("Failed to commit message",
					"topic", msg.Topic,
					"offset", msg.Offset,
					"key", string(msg.Key),
					"error", err,
				)
			}
		}
	}()

	return nil
}

func (c *KafkaConsumer) parkPoison(ctx context.Context, msg kafka.Message, cause error) {
	c.logger.Warn("Dropping poison message", "key", string(msg.Key), "offset", msg.Offset, "error", cause)
	if c.dlq == nil {
		return
	}
	if err := c.dlq.PublishToDLQ(ctx, string(msg.Key), msg.Value, cause.Error()); err != nil {
		c.logger.Error("Failed to park poison message on DLQ", "key", string(msg.Key), "error", err)
	}
}

func (c *KafkaConsumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

// Done is closed once the consume loop has exited
func (c *KafkaConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
