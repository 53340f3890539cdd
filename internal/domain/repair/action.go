package repair

import (
	"time"

	"github.com/google/uuid"

	"github.com/vcs-invoice-reconciler/internal/domain/shared"
)

// Kind names the repair a sweep detected
type Kind string

const (
	KindOrphanReset        Kind = "orphan-reset"
	KindDuplicateCandidate Kind = "duplicate-candidate"
	KindUnlinkedLines      Kind = "unlinked-lines"
	KindTaxDrift           Kind = "tax-drift"
)

// Action is a repair emitted by the reconciliation sweeper. Only orphan resets are
// applied by the sweeper itself; every other kind needs an authorised follow-up.
type Action struct {
	ID              uuid.UUID              `json:"id"`
	RunID           string                 `json:"run_id"`
	Kind            Kind                   `json:"kind"`
	OrderID         string                 `json:"order_id,omitempty"`
	TransactionType shared.TransactionType `json:"transaction_type,omitempty"`
	LedgerInvoiceID int64                  `json:"ledger_invoice_id,omitempty"`
	GroupKey        string                 `json:"group_key,omitempty"`
	Detail          string                 `json:"detail"`
	Applied         bool                   `json:"applied"`
	DetectedAt      time.Time              `json:"detected_at"`
}

// NewAction creates a repair action stamped with a fresh id
func NewAction(runID string, kind Kind, detail string) *Action {
	return &Action{
		ID:         uuid.New(),
		RunID:      runID,
		Kind:       kind,
		Detail:     detail,
		DetectedAt: time.Now().UTC(),
	}
}
