package vcsorder

import (
	"errors"
	"time"

	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
)

// Common errors
var (
	ErrEmptySkipReason   = errors.New("skipped records require a skip reason")
	ErrMissingInvoiceID  = errors.New("invoiced records require a ledger invoice id")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingAggregate  = errors.New("record requires an order aggregate")
	ErrInvalidRecordKey  = errors.New("record key requires order id and transaction type")
)

const (
	// NoteAwaitingPost marks a record whose invoice was created but not yet posted
	NoteAwaitingPost = "awaiting-post"
	// NoteReview marks an invoice carrying lines that need manual pricing review
	NoteReview = "review"
	// NoteOrphanReset marks a record whose ledger invoice disappeared
	NoteOrphanReset = "orphan-reset"
)

// Key is the unique key of a VCS order record
type Key struct {
	OrderID         string                 `json:"order_id"`
	TransactionType shared.TransactionType `json:"transaction_type"`
}

func (k Key) String() string {
	return k.OrderID + "/" + string(k.TransactionType)
}

// LedgerRef is the reference written on every invoice booked for this key. It tells
// the engine's own drafts apart from documents created by hand.
func (k Key) LedgerRef() string {
	return "VCS/" + k.String()
}

// Record is the durable reconciliation unit for one order and transaction type
type Record struct {
	OrderID          string                 `json:"order_id"`
	TransactionType  shared.TransactionType `json:"transaction_type"`
	Status           shared.RecordStatus    `json:"status"`
	LedgerInvoiceID  *int64                 `json:"ledger_invoice_id,omitempty"`
	LedgerInvoiceRef *string                `json:"ledger_invoice_ref,omitempty"`
	SkipReason       *shared.SkipReason     `json:"skip_reason,omitempty"`
	ErrorReason      *shared.ErrorReason    `json:"error_reason,omitempty"`
	ErrorMessage     *string                `json:"error_message,omitempty"`
	Note             *string                `json:"note,omitempty"`
	ReportID         string                 `json:"report_id"`
	Aggregate        *report.OrderAggregate `json:"aggregate"`
	Attempts         int                    `json:"attempts"`
	Version          int                    `json:"version"` // For optimistic locking
	LastAttemptAt    *time.Time             `json:"last_attempt_at,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// NewRecord creates a pending record for a freshly ingested aggregate
func NewRecord(agg *report.OrderAggregate) (*Record, error) {
	if agg == nil {
		return nil, ErrMissingAggregate
	}
	if agg.OrderID == "" || !agg.Type.IsValid() {
		return nil, ErrInvalidRecordKey
	}

	now := time.Now().UTC()
	return &Record{
		OrderID:         agg.OrderID,
		TransactionType: agg.Type,
		Status:          shared.RecordStatusPending,
		ReportID:        agg.ReportID,
		Aggregate:       agg,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Key returns the unique key of the record
func (r *Record) Key() Key {
	return Key{OrderID: r.OrderID, TransactionType: r.TransactionType}
}

// IsPending reports whether the record still awaits reconciliation
func (r *Record) IsPending() bool {
	return r.Status == shared.RecordStatusPending
}

// AwaitingPost reports whether a created invoice still needs to be posted
func (r *Record) AwaitingPost() bool {
	return r.IsPending() && r.LedgerInvoiceID != nil && r.Note != nil && *r.Note == NoteAwaitingPost
}

// MarkInvoiced records a booked or rediscovered ledger invoice. note may be empty.
func (r *Record) MarkInvoiced(invoiceID int64, invoiceRef, note string) error {
	if invoiceID <= 0 {
		return ErrMissingInvoiceID
	}
	if r.Status != shared.RecordStatusPending {
		return ErrInvalidTransition
	}

	r.Status = shared.RecordStatusInvoiced
	r.LedgerInvoiceID = &invoiceID
	r.LedgerInvoiceRef = optional(invoiceRef)
	r.SkipReason = nil
	r.ErrorReason = nil
	r.ErrorMessage = nil
	r.Note = optional(note)
	r.touch()
	return nil
}

// MarkAwaitingPost keeps the record pending while remembering the draft invoice
func (r *Record) MarkAwaitingPost(invoiceID int64, invoiceRef string) error {
	if invoiceID <= 0 {
		return ErrMissingInvoiceID
	}
	if r.Status != shared.RecordStatusPending {
		return ErrInvalidTransition
	}

	r.LedgerInvoiceID = &invoiceID
	r.LedgerInvoiceRef = optional(invoiceRef)
	note := NoteAwaitingPost
	r.Note = &note
	r.touch()
	return nil
}

// MarkSkipped sets the record aside with a mandatory reason
func (r *Record) MarkSkipped(reason shared.SkipReason, detail string) error {
	if reason == "" {
		return ErrEmptySkipReason
	}
	if r.Status != shared.RecordStatusPending {
		return ErrInvalidTransition
	}

	r.Status = shared.RecordStatusSkipped
	r.SkipReason = &reason
	r.ErrorReason = nil
	r.ErrorMessage = optional(detail)
	r.touch()
	return nil
}

// MarkError parks the record for manual resolution with the raw cause attached
func (r *Record) MarkError(reason shared.ErrorReason, message string) error {
	if r.Status != shared.RecordStatusPending {
		return ErrInvalidTransition
	}

	r.Status = shared.RecordStatusError
	r.ErrorReason = &reason
	r.ErrorMessage = optional(message)
	r.SkipReason = nil
	r.touch()
	return nil
}

// SetNote attaches an advisory note without changing the status
func (r *Record) SetNote(note string) {
	r.Note = optional(note)
	r.touch()
}

// ResetToPending clears every ledger reference and outcome so the record is matched again
func (r *Record) ResetToPending(note string) {
	r.Status = shared.RecordStatusPending
	r.LedgerInvoiceID = nil
	r.LedgerInvoiceRef = nil
	r.SkipReason = nil
	r.ErrorReason = nil
	r.ErrorMessage = nil
	r.Note = optional(note)
	r.LastAttemptAt = nil
	r.touch()
}

// RefreshAggregate replaces the stored aggregate while the record is still pending
func (r *Record) RefreshAggregate(agg *report.OrderAggregate) error {
	if agg == nil {
		return ErrMissingAggregate
	}
	if r.Status != shared.RecordStatusPending {
		return ErrInvalidTransition
	}

	r.Aggregate = agg
	r.ReportID = agg.ReportID
	r.touch()
	return nil
}

// Validate checks the record invariants enforced before every write
func (r *Record) Validate() error {
	if r.OrderID == "" || !r.TransactionType.IsValid() {
		return ErrInvalidRecordKey
	}
	if r.Status == shared.RecordStatusSkipped && (r.SkipReason == nil || *r.SkipReason == "") {
		return ErrEmptySkipReason
	}
	if r.Status == shared.RecordStatusInvoiced && (r.LedgerInvoiceID == nil || *r.LedgerInvoiceID <= 0) {
		return ErrMissingInvoiceID
	}
	return nil
}

func (r *Record) touch() {
	r.UpdatedAt = time.Now().UTC()
	r.Version++
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
