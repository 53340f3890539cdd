package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/tax"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
)

// Kind classifies a pending record against the ledger
type Kind string

const (
	// KindNew means the record can be booked
	KindNew Kind = "new"
	// KindAlreadyBooked means a posted invoice already covers the record
	KindAlreadyBooked Kind = "already-booked"
	// KindResume means a draft booked by an earlier attempt still needs posting
	KindResume Kind = "resume"
	// KindConflict means the ledger disagrees with the report; see Result.ErrorReason
	KindConflict Kind = "conflict"
	// KindUnresolvable means the record cannot be booked; see Result.SkipReason
	KindUnresolvable Kind = "unresolvable"
)

// Result is the classification of one record
type Result struct {
	Kind        Kind
	Order       *ledger.SalesOrder
	Invoice     *ledger.Invoice
	Decision    *tax.Decision
	SkipReason  shared.SkipReason
	ErrorReason shared.ErrorReason
	Detail      string
}

// Decider computes the tax treatment of an aggregate. *taxrules.Engine implements it.
type Decider interface {
	DecideAggregate(agg *report.OrderAggregate) (tax.Decision, error)
}

// Matcher locates the ledger order and invoices of a record and classifies it.
// It only reads from the ledger.
type Matcher struct {
	gateway ledger.Gateway
	decider Decider
	epsilon decimal.Decimal
	logger  *slog.Logger
}

func NewMatcher(gateway ledger.Gateway, decider Decider, epsilon decimal.Decimal, logger *slog.Logger) *Matcher {
	return &Matcher{
		gateway: gateway,
		decider: decider,
		epsilon: epsilon,
		logger:  logger.With("component", "matcher"),
	}
}

// Match classifies a pending record. decision may carry a precomputed tax decision;
// when nil it is computed here. Errors are ledger or input failures, never
// classifications.
func (m *Matcher) Match(ctx context.Context, rec *vcsorder.Record, decision *tax.Decision) (*Result, error) {
	agg := rec.Aggregate
	if agg == nil {
		return nil, vcsorder.ErrMissingAggregate
	}
	logger := m.logger.With("orderId", rec.OrderID, "transactionType", rec.TransactionType)

	orders, err := m.findOrder(ctx, rec.OrderID)
	if err != nil {
		return nil, err
	}
	switch len(orders) {
	case 0:
		logger.Info("No ledger order found")
		return &Result{
			Kind:       KindUnresolvable,
			SkipReason: shared.SkipReasonNoMatchingOrder,
			Detail:     fmt.Sprintf("no ledger sales order named %q", rec.OrderID),
		}, nil
	case 1:
	default:
		logger.Warn("Order name matches several ledger orders", "candidates", len(orders))
		return &Result{
			Kind:        KindConflict,
			ErrorReason: shared.ErrorReasonAmbiguousOrder,
			Detail:      fmt.Sprintf("%d ledger orders match %q", len(orders), rec.OrderID),
		}, nil
	}
	order := orders[0]

	invoices, err := m.gateway.FindInvoicesByOrigin(ctx, order.Name, ledger.MoveTypeFor(rec.TransactionType))
	if err != nil {
		return nil, err
	}
	if res := m.classifyExisting(rec, invoices); res != nil {
		res.Order = &order
		logger.Info("Existing ledger document found", "kind", res.Kind, "detail", res.Detail)
		return res, nil
	}

	if decision == nil {
		d, err := m.decider.DecideAggregate(agg)
		if err != nil {
			if errors.Is(err, tax.ErrUnresolvable{}) {
				logger.Warn("Tax decision unresolvable", "error", err)
				return &Result{
					Kind:       KindUnresolvable,
					Order:      &order,
					SkipReason: shared.SkipReasonTaxRuleGap,
					Detail:     err.Error(),
				}, nil
			}
			return nil, err
		}
		decision = &d
	}

	if detail, ok := m.amountsAgree(rec.TransactionType, agg.TotalInclusive, order.AmountTotal); !ok {
		logger.Warn("Report total disagrees with ledger order", "detail", detail)
		return &Result{
			Kind:        KindConflict,
			Order:       &order,
			ErrorReason: shared.ErrorReasonAmountMismatch,
			Detail:      detail,
		}, nil
	}

	return &Result{Kind: KindNew, Order: &order, Decision: decision}, nil
}

// findOrder tries the exact name first, then the normalized core name
func (m *Matcher) findOrder(ctx context.Context, orderID string) ([]ledger.SalesOrder, error) {
	exact, err := m.gateway.FindSalesOrders(ctx, orderID, true)
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		return exact, nil
	}

	core := NormalizeOrderName(orderID)
	if core == "" {
		return nil, nil
	}
	candidates, err := m.gateway.FindSalesOrders(ctx, core, false)
	if err != nil {
		return nil, err
	}
	var matched []ledger.SalesOrder
	for _, c := range candidates {
		if NormalizeOrderName(c.Name) == core {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

// classifyExisting decides what the non-cancelled invoices of the order mean for the
// record. A nil result means there is nothing to reuse or protect.
func (m *Matcher) classifyExisting(rec *vcsorder.Record, invoices []ledger.Invoice) *Result {
	agg := rec.Aggregate
	ref := rec.Key().LedgerRef()

	var live []ledger.Invoice
	for _, inv := range invoices {
		if !inv.IsCancelled() {
			live = append(live, inv)
		}
	}
	if len(live) == 0 {
		return nil
	}

	for i := range live {
		inv := live[i]
		if inv.State == ledger.InvoiceStatePosted && m.sameAmount(inv.AmountTotal, agg.TotalInclusive) && sameDay(inv, agg.TransactionDate) {
			return &Result{
				Kind:    KindAlreadyBooked,
				Invoice: &inv,
				Detail:  fmt.Sprintf("posted invoice %d matches origin, amount and date", inv.ID),
			}
		}
	}

	for i := range live {
		inv := live[i]
		if inv.State != ledger.InvoiceStateDraft {
			continue
		}
		recorded := rec.LedgerInvoiceID != nil && *rec.LedgerInvoiceID == inv.ID
		if recorded || (inv.Ref == ref && m.sameAmount(inv.AmountTotal, agg.TotalInclusive)) {
			return &Result{
				Kind:    KindResume,
				Invoice: &inv,
				Detail:  fmt.Sprintf("draft %d booked by an earlier attempt", inv.ID),
			}
		}
	}

	inv := live[0]
	return &Result{
		Kind:        KindConflict,
		Invoice:     &inv,
		ErrorReason: shared.ErrorReasonConflict,
		Detail: fmt.Sprintf("ledger %s %d (%s) has amount %s dated %s, report has %s dated %s",
			inv.MoveType, inv.ID, inv.State, inv.AmountTotal.StringFixed(2), inv.InvoiceDate.Format("2006-01-02"),
			agg.TotalInclusive.Abs().StringFixed(2), agg.TransactionDate.Format("2006-01-02")),
	}
}

// amountsAgree checks the report total against the ledger order: a shipment must
// equal it, a refund may not exceed it
func (m *Matcher) amountsAgree(txType shared.TransactionType, reported, orderTotal decimal.Decimal) (string, bool) {
	got := reported.Abs()
	want := orderTotal.Abs()
	if txType == shared.TransactionTypeRefund {
		if got.Sub(want).GreaterThan(m.epsilon) {
			return fmt.Sprintf("refund %s exceeds order total %s", got.StringFixed(2), want.StringFixed(2)), false
		}
		return "", true
	}
	if !m.sameAmount(got, want) {
		return fmt.Sprintf("shipment total %s differs from order total %s", got.StringFixed(2), want.StringFixed(2)), false
	}
	return "", true
}

func (m *Matcher) sameAmount(a, b decimal.Decimal) bool {
	return a.Abs().Sub(b.Abs()).Abs().LessThanOrEqual(m.epsilon)
}

// sameDay compares calendar days; a report without a date matches any invoice date
func sameDay(inv ledger.Invoice, reported time.Time) bool {
	if reported.IsZero() {
		return true
	}
	return inv.InvoiceDate.UTC().Format("2006-01-02") == reported.UTC().Format("2006-01-02")
}
