package service

import (
	"context"

	"github.com/vcs-invoice-reconciler/internal/domain/audit"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
)

// RecordService defines the read side of the Local Store
type RecordService interface {
	// GetRecord retrieves a record by key
	// Returns nil if the record doesn't exist
	GetRecord(ctx context.Context, key vcsorder.Key) (*vcsorder.Record, error)

	// ListRecords pages through records of one status in key order, starting after the given key
	ListRecords(ctx context.Context, status shared.RecordStatus, after vcsorder.Key, limit int) ([]*vcsorder.Record, error)

	// CountByStatus returns the number of records per status
	CountByStatus(ctx context.Context) (map[shared.RecordStatus]int64, error)

	// History returns the newest journal entries of an order
	History(ctx context.Context, orderID string, limit int) ([]*audit.Entry, error)
}

// RequeueService hands operator requeue requests to the reconciliation worker
type RequeueService interface {
	// RequestRequeue publishes the request once the record is known to be parked
	// Returns vcsorder.ErrRecordNotFound or ErrNotParked otherwise
	RequestRequeue(ctx context.Context, request *shared.RequeueRequest) error
}
