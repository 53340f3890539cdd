package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/platform/messaging/consumers"
	"github.com/vcs-invoice-reconciler/internal/platform/messaging/producers"
	"github.com/vcs-invoice-reconciler/internal/reconciler/service"
)

// RequeueHandler handles operator requeue requests arriving from Kafka
type RequeueHandler struct {
	processingService service.ProcessingService
	producer          producers.DeadLetterPublisher
	logger            *slog.Logger
}

// NewRequeueHandler creates a new handler
func NewRequeueHandler(
	logger *slog.Logger,
	processingService service.ProcessingService,
	producer producers.DeadLetterPublisher,
) *RequeueHandler {
	return &RequeueHandler{
		processingService: processingService,
		producer:          producer,
		logger:            logger,
	}
}

// HandleMessage processes Kafka messages. A nil return commits the offset.
func (h *RequeueHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var request shared.RequeueRequest
	if err := json.Unmarshal(value, &request); err != nil {
		unmarshalErrorMsg := "Failed to unmarshal requeue request from Kafka message"
		h.logger.Error(unmarshalErrorMsg,
			"error", err,
			"message_key", string(key),
		)

		if h.producer != nil {
			dlqReason := fmt.Sprintf("%s: %s", unmarshalErrorMsg, err.Error())
			if dlqErr := h.producer.PublishToDLQ(ctx, string(key), value, dlqReason); dlqErr != nil {
				h.logger.Error("Failed to publish message to DLQ after unmarshal error",
					"dlq_error", dlqErr,
					"original_error", err,
					"message_key", string(key),
				)
			} else {
				h.logger.Info("Published unprocessable message to DLQ", "message_key", string(key), "reason", dlqReason)
				return nil
			}
		}
		return fmt.Errorf("failed to unmarshal message value: %w", err)
	}

	logger := h.logger
	if request.CorrelationID != "" {
		logger = h.logger.With("correlation_id", request.CorrelationID)
	}

	logger.Info("Received requeue request",
		"orderId", request.OrderID,
		"transactionType", request.TransactionType,
		"requested_by", request.RequestedBy,
	)

	if err := request.Validate(); err != nil {
		return fmt.Errorf("%w: invalid requeue request: %v", consumers.ErrPoisonMessage, err)
	}

	out, err := h.processingService.Requeue(ctx, &request)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNotRequeueable):
		logger.Warn("Requeue ignored", "orderId", request.OrderID, "error", err)
		return nil
	case errors.Is(err, vcsorder.ErrRecordNotFound{}):
		return fmt.Errorf("%w: %v", consumers.ErrPoisonMessage, err)
	default:
		logger.Error("Failed to requeue record",
			"orderId", request.OrderID,
			"transactionType", request.TransactionType,
			"error", err,
		)
		return fmt.Errorf("requeue of %s/%s failed: %w", request.OrderID, request.TransactionType, err)
	}

	logger.Info("Requeued record processed",
		"orderId", request.OrderID,
		"category", out.Category,
		"status", out.Status,
	)
	return nil
}
