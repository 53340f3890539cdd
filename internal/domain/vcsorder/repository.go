package vcsorder

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vcs-invoice-reconciler/internal/domain/shared"
)

// Repository defines Local Store persistence for VCS order records
type Repository interface {
	// CreateIfAbsent inserts the record unless one already exists for its key
	CreateIfAbsent(ctx context.Context, record *Record) (bool, error)
	Get(ctx context.Context, key Key) (*Record, error)

	// Update persists a record using optimistic locking on its previous version
	Update(ctx context.Context, record *Record) error

	// Claim stamps an attempt on a pending record unless another run claimed it
	// within the lease window
	Claim(ctx context.Context, key Key, version int, lease time.Duration) (*Record, error)

	// LockForUpdate obtains a row lock on the record; use it inside a transaction
	LockForUpdate(ctx context.Context, key Key) (*Record, error)

	// ListByStatus pages through records of one status in key order, starting after the given key
	ListByStatus(ctx context.Context, status shared.RecordStatus, after Key, limit int) ([]*Record, error)
	ListByLedgerInvoiceID(ctx context.Context, invoiceID int64) ([]*Record, error)
	CountByStatus(ctx context.Context) (map[shared.RecordStatus]int64, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrRecordNotFound indicates a missing record
type ErrRecordNotFound struct {
	Key Key
}

func (e ErrRecordNotFound) Error() string {
	return "vcs order record not found: " + e.Key.String()
}

// Is implements the errors.Is interface for ErrRecordNotFound
func (e ErrRecordNotFound) Is(target error) bool {
	t, ok := target.(ErrRecordNotFound)
	if !ok {
		return false
	}
	// An empty target key matches any missing record
	if t.Key == (Key{}) {
		return true
	}
	return e.Key == t.Key
}

// ErrConcurrentModification indicates an optimistic lock failure
type ErrConcurrentModification struct {
	Key Key
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification detected for vcs order record: " + e.Key.String()
}

// Is implements the errors.Is interface for ErrConcurrentModification
func (e ErrConcurrentModification) Is(target error) bool {
	t, ok := target.(ErrConcurrentModification)
	if !ok {
		return false
	}
	if t.Key == (Key{}) {
		return true
	}
	return e.Key == t.Key
}

// ErrClaimRejected indicates the record is not claimable: it left the pending
// state or another run holds a fresh claim
type ErrClaimRejected struct {
	Key Key
}

func (e ErrClaimRejected) Error() string {
	return "vcs order record is not claimable: " + e.Key.String()
}

// Is implements the errors.Is interface for ErrClaimRejected
func (e ErrClaimRejected) Is(target error) bool {
	t, ok := target.(ErrClaimRejected)
	if !ok {
		return false
	}
	if t.Key == (Key{}) {
		return true
	}
	return e.Key == t.Key
}
