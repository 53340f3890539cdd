package audit

import (
	"context"
	"time"
)

// Repository manages the append-only reconciliation journal
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	ListByOrder(ctx context.Context, orderID string, limit int) ([]*Entry, error)
	ListByAction(ctx context.Context, action Action, from, to time.Time, limit, offset int) ([]*Entry, error)
}
