package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vcs-invoice-reconciler/internal/domain/audit"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
)

// RecordServiceImpl implements the RecordService interface
type RecordServiceImpl struct {
	records vcsorder.Repository
	journal audit.Repository
	logger  *slog.Logger
}

// NewRecordService creates a new record service. journal may be nil, in which case
// History returns no entries.
func NewRecordService(logger *slog.Logger, records vcsorder.Repository, journal audit.Repository) RecordService {
	return &RecordServiceImpl{
		records: records,
		journal: journal,
		logger:  logger,
	}
}

// GetRecord retrieves a record by key. Returns nil if not found
func (s *RecordServiceImpl) GetRecord(ctx context.Context, key vcsorder.Key) (*vcsorder.Record, error) {
	rec, err := s.records.Get(ctx, key)
	if err != nil {
		if errors.Is(err, vcsorder.ErrRecordNotFound{}) {
			s.logger.Info("Record not found", "orderId", key.OrderID, "transactionType", key.TransactionType)
			return nil, nil
		}
		s.logger.Error("Failed to get record", "orderId", key.OrderID, "transactionType", key.TransactionType, "error", err)
		return nil, err
	}
	return rec, nil
}

func (s *RecordServiceImpl) ListRecords(ctx context.Context, status shared.RecordStatus, after vcsorder.Key, limit int) ([]*vcsorder.Record, error) {
	return s.records.ListByStatus(ctx, status, after, limit)
}

func (s *RecordServiceImpl) CountByStatus(ctx context.Context) (map[shared.RecordStatus]int64, error) {
	return s.records.CountByStatus(ctx)
}

func (s *RecordServiceImpl) History(ctx context.Context, orderID string, limit int) ([]*audit.Entry, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.ListByOrder(ctx, orderID, limit)
}
