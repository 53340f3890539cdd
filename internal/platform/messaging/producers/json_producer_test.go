package producers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vcs-invoice-reconciler/internal/domain/shared"
)

// MockKafkaWriter mocks KafkaWriter interface
type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestJSONProducer_Publish(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	t.Run("SuccessfulPublish", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := NewJSONProducerWithWriter(logger, mockWriter, "vcs_requeue_requests")

		value := shared.RequeueRequest{
			OrderID:         "ORD-1",
			TransactionType: shared.TransactionTypeShipment,
			RequestedBy:     "ops",
		}
		expected, _ := json.Marshal(value)

		mockWriter.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			return len(msgs) == 1 &&
				string(msgs[0].Key) == "ORD-1/SHIPMENT" &&
				string(msgs[0].Value) == string(expected)
		})).Return(nil).Once()

		err := producer.Publish(ctx, "ORD-1/SHIPMENT", value)
		require.NoError(t, err)
		assert.Equal(t, "vcs_requeue_requests", producer.Topic())
		mockWriter.AssertExpectations(t)
	})

	t.Run("WriterError", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := NewJSONProducerWithWriter(logger, mockWriter, "vcs_repair_actions")
		writerErr := errors.New("kafka write error")

		mockWriter.On("WriteMessages", ctx, mock.AnythingOfType("[]kafka.Message")).Return(writerErr).Once()

		err := producer.Publish(ctx, "k", map[string]string{"kind": "orphan-reset"})
		require.Error(t, err)
		assert.ErrorIs(t, err, writerErr)
		mockWriter.AssertExpectations(t)
	})

	t.Run("UnencodableValue", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := NewJSONProducerWithWriter(logger, mockWriter, "vcs_repair_actions")

		err := producer.Publish(ctx, "k", make(chan int))
		require.Error(t, err)
		mockWriter.AssertNotCalled(t, "WriteMessages", mock.Anything, mock.Anything)
	})
}

func TestJSONProducer_Close(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	t.Run("SuccessfulClose", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := NewJSONProducerWithWriter(logger, mockWriter, "t")
		mockWriter.On("Close").Return(nil).Once()

		require.NoError(t, producer.Close())
		mockWriter.AssertExpectations(t)
	})

	t.Run("CloseError", func(t *testing.T) {
		mockWriter := new(MockKafkaWriter)
		producer := NewJSONProducerWithWriter(logger, mockWriter, "t")
		closeErr := errors.New("kafka close error")
		mockWriter.On("Close").Return(closeErr).Once()

		assert.ErrorIs(t, producer.Close(), closeErr)
		mockWriter.AssertExpectations(t)
	})
}

type publishCounts map[string][2]int

func (c publishCounts) RecordKafkaPublish(topic string, success bool) {
	n := c[topic]
	if success {
		n[0]++
	} else {
		n[1]++
	}
	c[topic] = n
}

func TestProducers_RecordPublishes(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()
	counts := publishCounts{}

	repairWriter := new(MockKafkaWriter)
	repairWriter.On("WriteMessages", ctx, mock.Anything).Return(nil).Once()
	repairWriter.On("WriteMessages", ctx, mock.Anything).Return(errors.New("leader not available")).Once()
	repairs := NewJSONProducerWithWriter(logger, repairWriter, "vcs_repair_actions").WithRecorder(counts)

	require.NoError(t, repairs.Publish(ctx, "302-1/SHIPMENT", map[string]string{"kind": "orphan-reset"}))
	require.Error(t, repairs.Publish(ctx, "302-1/SHIPMENT", map[string]string{"kind": "orphan-reset"}))

	dlqWriter := new(MockKafkaWriter)
	dlqWriter.On("WriteMessages", ctx, mock.Anything).Return(nil).Once()
	dlq := (&DLQProducer{logger: logger, writer: dlqWriter, dlqTopic: "vcs_reconciler_dlq"}).WithRecorder(counts)
	require.NoError(t, dlq.PublishToDLQ(ctx, "report:3", []byte("row"), "missing order id"))

	assert.Equal(t, [2]int{1, 1}, counts["vcs_repair_actions"])
	assert.Equal(t, [2]int{1, 0}, counts["vcs_reconciler_dlq"])

	var disabled *DLQProducer
	assert.Nil(t, disabled.WithRecorder(counts), "a disabled DLQ stays disabled")
}
