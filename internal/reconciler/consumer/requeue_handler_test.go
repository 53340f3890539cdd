package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/tax"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/platform/messaging/consumers"
	"github.com/vcs-invoice-reconciler/internal/reconciler/service"
)

// MockProcessingService for testing
type MockProcessingService struct {
	mock.Mock
}

func (m *MockProcessingService) ProcessRecord(ctx context.Context, rec *vcsorder.Record, decision *tax.Decision) (*service.RecordOutcome, error) {
	args := m.Called(ctx, rec, decision)
	out, _ := args.Get(0).(*service.RecordOutcome)
	return out, args.Error(1)
}

func (m *MockProcessingService) ProcessKey(ctx context.Context, key vcsorder.Key) (*service.RecordOutcome, error) {
	args := m.Called(ctx, key)
	out, _ := args.Get(0).(*service.RecordOutcome)
	return out, args.Error(1)
}

func (m *MockProcessingService) Requeue(ctx context.Context, request *shared.RequeueRequest) (*service.RecordOutcome, error) {
	args := m.Called(ctx, request)
	out, _ := args.Get(0).(*service.RecordOutcome)
	return out, args.Error(1)
}

// MockDeadLetterPublisher for testing
type MockDeadLetterPublisher struct {
	mock.Mock
}

func (m *MockDeadLetterPublisher) PublishToDLQ(ctx context.Context, key string, value []byte, reason string) error {
	args := m.Called(ctx, key, value, reason)
	return args.Error(0)
}

func (m *MockDeadLetterPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestHandleMessage(t *testing.T) {
	logger := slog.Default()

	validRequest := &shared.RequeueRequest{
		OrderID:         "302-1234567-1234567",
		TransactionType: shared.TransactionTypeShipment,
		RequestedBy:     "ops",
		CorrelationID:   "corr1",
		Timestamp:       time.Now(),
	}
	validJSON, err := json.Marshal(validRequest)
	assert.NoError(t, err)

	invalidJSON, err := json.Marshal(&shared.RequeueRequest{TransactionType: shared.TransactionTypeShipment})
	assert.NoError(t, err)

	processed := &service.RecordOutcome{Category: service.CategoryNew, Status: shared.RecordStatusInvoiced}
	isValid := mock.MatchedBy(func(req *shared.RequeueRequest) bool {
		return req.OrderID == validRequest.OrderID && req.TransactionType == validRequest.TransactionType
	})

	tests := []struct {
		name          string
		value         []byte
		setupMocks    func(ps *MockProcessingService, dlq *MockDeadLetterPublisher)
		expectedError string
		poison        bool
	}{
		{
			name:  "successful requeue",
			value: validJSON,
			setupMocks: func(ps *MockProcessingService, _ *MockDeadLetterPublisher) {
				ps.On("Requeue", mock.Anything, isValid).Return(processed, nil)
			},
		},
		{
			name:  "record not requeueable is acknowledged",
			value: validJSON,
			setupMocks: func(ps *MockProcessingService, _ *MockDeadLetterPublisher) {
				ps.On("Requeue", mock.Anything, isValid).Return(nil, service.ErrNotRequeueable)
			},
		},
		{
			name:  "unknown record is poison",
			value: validJSON,
			setupMocks: func(ps *MockProcessingService, _ *MockDeadLetterPublisher) {
				ps.On("Requeue", mock.Anything, isValid).Return(nil, vcsorder.ErrRecordNotFound{})
			},
			expectedError: "poison",
			poison:        true,
		},
		{
			name:  "store failure is retried",
			value: validJSON,
			setupMocks: func(ps *MockProcessingService, _ *MockDeadLetterPublisher) {
				ps.On("Requeue", mock.Anything, isValid).Return(nil, errors.New("connection reset"))
			},
			expectedError: "requeue of",
		},
		{
			name:          "request without order id is poison",
			value:         invalidJSON,
			setupMocks:    func(*MockProcessingService, *MockDeadLetterPublisher) {},
			expectedError: "invalid requeue request",
			poison:        true,
		},
		{
			name:  "unmarshal error with successful DLQ publish",
			value: []byte("invalid json"),
			setupMocks: func(_ *MockProcessingService, dlq *MockDeadLetterPublisher) {
				dlq.On("PublishToDLQ", mock.Anything, "test-key", []byte("invalid json"), mock.Anything).Return(nil)
			},
		},
		{
			name:  "unmarshal error with DLQ publish failure",
			value: []byte("invalid json"),
			setupMocks: func(_ *MockProcessingService, dlq *MockDeadLetterPublisher) {
				dlq.On("PublishToDLQ", mock.Anything, "test-key", []byte("invalid json"), mock.Anything).Return(errors.New("dlq error"))
			},
			expectedError: "failed to unmarshal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := &MockProcessingService{}
			dlq := &MockDeadLetterPublisher{}
			tt.setupMocks(ps, dlq)

			handler := NewRequeueHandler(logger, ps, dlq)
			err := handler.HandleMessage(context.Background(), []byte("test-key"), tt.value)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Equal(t, tt.poison, errors.Is(err, consumers.ErrPoisonMessage))
			} else {
				assert.NoError(t, err)
			}

			ps.AssertExpectations(t)
			dlq.AssertExpectations(t)
		})
	}
}
