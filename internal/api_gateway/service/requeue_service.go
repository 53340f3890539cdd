package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/platform/messaging/producers"
)

// ErrNotParked is returned for records that are not in error or skipped
var ErrNotParked = errors.New("record is not in error or skipped")

// RequeueServiceImpl implements the RequeueService interface
type RequeueServiceImpl struct {
	records  vcsorder.Repository
	producer producers.MessagePublisher
	logger   *slog.Logger
}

// NewRequeueService creates a new requeue service
func NewRequeueService(logger *slog.Logger, records vcsorder.Repository, producer producers.MessagePublisher) RequeueService {
	return &RequeueServiceImpl{
		records:  records,
		producer: producer,
		logger:   logger,
	}
}

// RequestRequeue checks the record is parked and publishes the request keyed by
// record, so requests for one record stay ordered on one partition. The worker
// re-checks the status under a row lock.
func (s *RequeueServiceImpl) RequestRequeue(ctx context.Context, request *shared.RequeueRequest) error {
	if err := request.Validate(); err != nil {
		return err
	}
	key := vcsorder.Key{OrderID: request.OrderID, TransactionType: request.TransactionType}

	rec, err := s.records.Get(ctx, key)
	if err != nil {
		return err
	}
	if rec.Status != shared.RecordStatusError && rec.Status != shared.RecordStatusSkipped {
		return fmt.Errorf("%w: %s is %s", ErrNotParked, key, rec.Status)
	}

	if err := s.producer.Publish(ctx, key.String(), request); err != nil {
		s.logger.Error("Failed to publish requeue request",
			"orderId", request.OrderID,
			"transactionType", request.TransactionType,
			"error", err,
		)
		return err
	}

	s.logger.Info("Requeue request published",
		"orderId", request.OrderID,
		"transactionType", request.TransactionType,
		"requested_by", request.RequestedBy,
	)
	return nil
}
