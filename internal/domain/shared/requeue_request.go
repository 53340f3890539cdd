package shared

import (
	"errors"
	"time"
)

var (
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrEmptyOrderID           = errors.New("order id cannot be empty")
)

// RequeueRequest defines a Kafka message asking the worker to reset a parked record
// to pending and process it again
type RequeueRequest struct {
	OrderID         string          `json:"order_id"`
	TransactionType TransactionType `json:"transaction_type"`
	RequestedBy     string          `json:"requested_by,omitempty"`
	Note            string          `json:"note,omitempty"`
	CorrelationID   string          `json:"correlation_id"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Validate checks the request carries a usable record key
func (r RequeueRequest) Validate() error {
	if r.OrderID == "" {
		return ErrEmptyOrderID
	}
	if !r.TransactionType.IsValid() {
		return ErrInvalidTransactionType
	}
	return nil
}
