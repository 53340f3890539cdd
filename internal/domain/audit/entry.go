package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/vcs-invoice-reconciler/internal/domain/repair"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
)

// Action names what happened to a record or ledger document
type Action string

const (
	ActionInvoiceCreated Action = "invoice-created"
	ActionInvoicePosted  Action = "invoice-posted"
	ActionShortCircuit   Action = "short-circuit"
	ActionConflict       Action = "conflict"
	ActionSkipped        Action = "skipped"
	ActionFailed         Action = "failed"
	ActionPartnerCreated Action = "partner-created"
	ActionRequeued       Action = "requeued"
	ActionRepair         Action = "repair"
)

// Entry is an append-only journal line describing one reconciliation event
type Entry struct {
	ID              string                 `json:"id" bson:"_id"`
	RunID           string                 `json:"run_id" bson:"run_id"`
	Action          Action                 `json:"action" bson:"action"`
	RepairKind      repair.Kind            `json:"repair_kind,omitempty" bson:"repair_kind,omitempty"`
	OrderID         string                 `json:"order_id,omitempty" bson:"order_id,omitempty"`
	TransactionType shared.TransactionType `json:"transaction_type,omitempty" bson:"transaction_type,omitempty"`
	LedgerInvoiceID int64                  `json:"ledger_invoice_id,omitempty" bson:"ledger_invoice_id,omitempty"`
	Status          shared.RecordStatus    `json:"status,omitempty" bson:"status,omitempty"`
	Detail          string                 `json:"detail,omitempty" bson:"detail,omitempty"`
	DryRun          bool                   `json:"dry_run,omitempty" bson:"dry_run,omitempty"`
	CreatedAt       time.Time              `json:"created_at" bson:"created_at"`
}

// NewEntry creates a journal entry for an order
func NewEntry(runID string, action Action, orderID string, txType shared.TransactionType) *Entry {
	return &Entry{
		ID:              uuid.NewString(),
		RunID:           runID,
		Action:          action,
		OrderID:         orderID,
		TransactionType: txType,
		CreatedAt:       time.Now().UTC(),
	}
}

// FromRepairAction journals a sweeper repair action
func FromRepairAction(a *repair.Action) *Entry {
	return &Entry{
		ID:              uuid.NewString(),
		RunID:           a.RunID,
		Action:          ActionRepair,
		RepairKind:      a.Kind,
		OrderID:         a.OrderID,
		TransactionType: a.TransactionType,
		LedgerInvoiceID: a.LedgerInvoiceID,
		Detail:          a.Detail,
		CreatedAt:       a.DetectedAt,
	}
}
