package shared

import "strings"

// TransactionType defines the marketplace transaction kinds the engine reconciles
type TransactionType string

const (
	TransactionTypeShipment TransactionType = "SHIPMENT"
	TransactionTypeRefund   TransactionType = "REFUND"
)

// ParseTransactionType maps a report cell onto a TransactionType.
// RETURN is reported by some marketplaces for refunds.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SHIPMENT":
		return TransactionTypeShipment, nil
	case "REFUND", "RETURN":
		return TransactionTypeRefund, nil
	default:
		return "", ErrInvalidTransactionType
	}
}

// IsValid reports whether t is one of the known transaction types
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeShipment || t == TransactionTypeRefund
}

// Sign returns -1 for refunds and 1 otherwise
func (t TransactionType) Sign() int {
	if t == TransactionTypeRefund {
		return -1
	}
	return 1
}

// RecordStatus defines the reconciliation states of a VCS order record
type RecordStatus string

const (
	RecordStatusPending  RecordStatus = "pending"
	RecordStatusInvoiced RecordStatus = "invoiced"
	RecordStatusSkipped  RecordStatus = "skipped"
	RecordStatusError    RecordStatus = "error"
)

// IsTerminal reports whether the status ends automatic processing
func (s RecordStatus) IsTerminal() bool {
	return s == RecordStatusInvoiced || s == RecordStatusSkipped || s == RecordStatusError
}

// SkipReason explains why a record was set aside without booking
type SkipReason string

const (
	SkipReasonNoMatchingOrder SkipReason = "no-matching-order"
	SkipReasonTaxRuleGap      SkipReason = "tax-rule-gap"
)

// ErrorReason categorises records parked in the error state
type ErrorReason string

const (
	ErrorReasonConflict       ErrorReason = "conflict"
	ErrorReasonValidation     ErrorReason = "validation"
	ErrorReasonTransient      ErrorReason = "transient"
	ErrorReasonAmountMismatch ErrorReason = "amount-mismatch"
	ErrorReasonAmbiguousOrder ErrorReason = "ambiguous-order"
	ErrorReasonInternal       ErrorReason = "internal"
)
