package booking

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
	"github.com/vcs-invoice-reconciler/internal/platform/resilience"
)

// ReviewPrefix names invoice lines whose SKU is not in the catalog
const ReviewPrefix = "[REVIEW] "

// Status is the result of a booking attempt
type Status string

const (
	StatusInvoiced     Status = "invoiced"
	StatusAwaitingPost Status = "awaiting-post"
	StatusFailed       Status = "failed"
	StatusDryRun       Status = "dry-run"
)

// Outcome describes what a booking attempt did in the ledger
type Outcome struct {
	Status         Status
	InvoiceID      int64
	InvoiceRef     string
	ErrorReason    shared.ErrorReason
	Message        string
	Review         bool
	Adopted        bool
	PartnerCreated bool
	Draft          *ledger.InvoiceDraft
}

// Executor creates and posts invoices. It makes at most one invoice per record:
// every create attempt is preceded by a search for a document carrying the
// record's ledger reference.
type Executor struct {
	gateway ledger.Gateway
	retry   *resilience.RetryConfig
	dryRun  bool
	logger  *slog.Logger
}

// NewExecutor creates an executor. retry must be the policy shared with the
// gateway; creates are retried here rather than in the gateway.
func NewExecutor(gateway ledger.Gateway, retry *resilience.RetryConfig, dryRun bool, logger *slog.Logger) *Executor {
	return &Executor{
		gateway: gateway,
		retry:   retry,
		dryRun:  dryRun,
		logger:  logger.With("component", "booking"),
	}
}

// Book creates and posts the invoice or credit note of a matched record. The
// create and post pair is not interrupted by cancellation of ctx.
func (e *Executor) Book(ctx context.Context, rec *vcsorder.Record, order *ledger.SalesOrder, decision *tax.Decision) (*Outcome, error) {
	if rec.Aggregate == nil {
		return nil, vcsorder.ErrMissingAggregate
	}
	if order == nil || decision == nil {
		return nil, errors.New("booking requires a matched order and a tax decision")
	}
	ctx = context.WithoutCancel(ctx)
	logger := e.logger.With("orderId", rec.OrderID, "transactionType", rec.TransactionType)
	agg := rec.Aggregate

	partnerID, partnerCreated, err := e.resolvePartner(ctx, decision, agg)
	if err != nil {
		return failed(err), nil
	}

	draft, err := e.buildDraft(ctx, rec, order, decision, partnerID)
	if err != nil {
		return failed(err), nil
	}
	review := len(agg.UnresolvedLines()) > 0

	if e.dryRun {
		logger.Info("Dry run: invoice not created", "origin", draft.Origin, "total", draft.Total().StringFixed(2), "lines", len(draft.Lines))
		return &Outcome{Status: StatusDryRun, Review: review, Draft: draft}, nil
	}

	adopted := false
	invoiceID, err := resilience.RetryWithResult(ctx, e.retry, func() (int64, error) {
		existing, err := e.findOwnDocument(ctx, draft)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			adopted = true
			return existing.ID, nil
		}
		return e.gateway.CreateInvoice(ctx, *draft)
	})
	if err != nil {
		logger.Error("Invoice creation failed", "error", err)
		out := failed(err)
		out.PartnerCreated = partnerCreated
		return out, nil
	}
	if adopted {
		logger.Warn("Adopted invoice left by an earlier create attempt", "invoice_id", invoiceID)
	} else {
		logger.Info("Invoice created", "invoice_id", invoiceID, "total", draft.Total().StringFixed(2))
	}

	out := e.post(ctx, logger, invoiceID)
	out.Review = review
	out.Adopted = adopted
	out.PartnerCreated = partnerCreated
	out.Draft = draft
	return out, nil
}

// Resume posts a draft left by an earlier attempt
func (e *Executor) Resume(ctx context.Context, rec *vcsorder.Record, invoice *ledger.Invoice) (*Outcome, error) {
	if invoice == nil {
		return nil, errors.New("resume requires a draft invoice")
	}
	ctx = context.WithoutCancel(ctx)
	logger := e.logger.With("orderId", rec.OrderID, "transactionType", rec.TransactionType)

	review := rec.Aggregate != nil && len(rec.Aggregate.UnresolvedLines()) > 0
	if e.dryRun {
		logger.Info("Dry run: draft not posted", "invoice_id", invoice.ID)
		return &Outcome{Status: StatusDryRun, InvoiceID: invoice.ID, Review: review}, nil
	}

	logger.Info("Resuming draft invoice", "invoice_id", invoice.ID)
	out := e.post(ctx, logger, invoice.ID)
	out.Review = review
	out.Adopted = true
	return out, nil
}

// post confirms the invoice. A transient failure leaves it awaiting post so the
// next pass resumes the same draft.
func (e *Executor) post(ctx context.Context, logger *slog.Logger, invoiceID int64) *Outcome {
	if err := e.gateway.PostInvoice(ctx, invoiceID); err != nil {
		if ledger.IsTransient(err) {
			logger.Warn("Invoice created but not posted", "invoice_id", invoiceID, "error", err)
			return &Outcome{Status: StatusAwaitingPost, InvoiceID: invoiceID, Message: err.Error()}
		}
		logger.Error("Invoice post rejected", "invoice_id", invoiceID, "error", err)
		out := failed(err)
		out.InvoiceID = invoiceID
		return out
	}

	ref := ""
	if invoices, err := e.gateway.GetInvoices(ctx, []int64{invoiceID}); err == nil && len(invoices) == 1 {
		ref = invoices[0].Name
	} else if err != nil {
		logger.Warn("Posted invoice could not be re-read", "invoice_id", invoiceID, "error", err)
	}

	logger.Info("Invoice posted", "invoice_id", invoiceID, "invoice_ref", ref)
	return &Outcome{Status: StatusInvoiced, InvoiceID: invoiceID, InvoiceRef: ref}
}

// findOwnDocument returns a non-cancelled document carrying the draft's reference
func (e *Executor) findOwnDocument(ctx context.Context, draft *ledger.InvoiceDraft) (*ledger.Invoice, error) {
	invoices, err := e.gateway.FindInvoicesByOrigin(ctx, draft.Origin, draft.MoveType)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		if invoices[i].Ref == draft.Ref && !invoices[i].IsCancelled() {
			return &invoices[i], nil
		}
	}
	return nil, nil
}

func (e *Executor) buildDraft(ctx context.Context, rec *vcsorder.Record, order *ledger.SalesOrder, decision *tax.Decision, partnerID int64) (*ledger.InvoiceDraft, error) {
	agg := rec.Aggregate

	taxID, err := e.gateway.ResolveTaxID(ctx, decision.TaxCode)
	if err != nil {
		return nil, err
	}
	journalID, err := e.gateway.ResolveJournalID(ctx, decision.TargetJournal)
	if err != nil {
		return nil, err
	}
	fiscalID, err := e.gateway.ResolveFiscalPositionID(ctx, decision.FiscalRegime)
	if err != nil {
		return nil, err
	}

	orderLines, err := e.gateway.GetOrderLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	saleLines := make(map[int64][]int64)
	for _, ol := range orderLines {
		if ol.ProductID != 0 {
			saleLines[ol.ProductID] = append(saleLines[ol.ProductID], ol.ID)
		}
	}

	invoiceDate := agg.TransactionDate
	if invoiceDate.IsZero() {
		invoiceDate = time.Now().UTC()
	}
	currency := agg.Currency
	if currency == "" {
		currency = order.Currency
	}

	draft := &ledger.InvoiceDraft{
		MoveType:         ledger.MoveTypeFor(rec.TransactionType),
		PartnerID:        partnerID,
		JournalID:        journalID,
		FiscalPositionID: fiscalID,
		InvoiceDate:      invoiceDate,
		Origin:           order.Name,
		Ref:              rec.Key().LedgerRef(),
		Currency:         currency,
	}
	for _, line := range agg.Lines {
		draft.Lines = append(draft.Lines, draftLine(line, taxID, saleLines))
	}
	if len(draft.Lines) == 0 {
		return nil, &ledger.ValidationError{Op: "build invoice", Message: "aggregate has no lines"}
	}
	return draft, nil
}

// draftLine converts an aggregate line. Credit note lines carry positive amounts;
// the move type gives them their sign.
func draftLine(line report.ItemLine, taxID int64, saleLines map[int64][]int64) ledger.InvoiceLineDraft {
	qty := line.Quantity
	if qty < 0 {
		qty = -qty
	}
	if qty == 0 {
		qty = 1
	}
	quantity := decimal.NewFromInt(int64(qty))

	out := ledger.InvoiceLineDraft{
		ProductID: line.ProductID,
		Name:      line.SKU,
		Quantity:  quantity,
		PriceUnit: line.Amount.Abs().Div(quantity),
		TaxIDs:    []int64{taxID},
	}
	if line.Unresolved || line.ProductID == 0 {
		out.ProductID = 0
		out.Name = ReviewPrefix + reviewName(line)
		return out
	}
	out.SaleLineIDs = saleLines[line.ProductID]
	return out
}

func reviewName(line report.ItemLine) string {
	if len(line.RawSKUs) > 0 {
		return line.RawSKUs[0]
	}
	return line.SKU
}

func failed(err error) *Outcome {
	reason := shared.ErrorReasonInternal
	var notFound ledger.ErrReferenceNotFound
	switch {
	case ledger.IsValidation(err), errors.As(err, &notFound):
		reason = shared.ErrorReasonValidation
	case ledger.IsTransient(err):
		reason = shared.ErrorReasonTransient
	}
	return &Outcome{Status: StatusFailed, ErrorReason: reason, Message: fmt.Sprint(err)}
}
