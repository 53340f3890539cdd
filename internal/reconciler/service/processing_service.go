package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vcs-invoice-reconciler/internal/domain/audit"
	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/tax"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/reconciler/booking"
	"github.com/vcs-invoice-reconciler/internal/reconciler/matcher"
)

// ErrNotRequeueable is returned when a requeue targets an invoiced record
var ErrNotRequeueable = errors.New("only error and skipped records can be requeued")

const defaultRequeueNote = "requeued"

type ProcessingServiceImpl struct {
	records RecordManager
	matcher RecordMatcher
	booker  Booker
	journal AuditRecorder
	metrics OutcomeMetrics
	dryRun  bool
	logger  *slog.Logger
}

func NewProcessingService(
	records RecordManager,
	matcher RecordMatcher,
	booker Booker,
	journal AuditRecorder,
	metrics OutcomeMetrics,
	dryRun bool,
	logger *slog.Logger,
) ProcessingService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ProcessingServiceImpl{
		records: records,
		matcher: matcher,
		booker:  booker,
		journal: journal,
		metrics: metrics,
		dryRun:  dryRun,
		logger:  logger,
	}
}

// ProcessKey loads a record and processes it. Records that already left the
// pending state are reported without any ledger call.
func (s *ProcessingServiceImpl) ProcessKey(ctx context.Context, key vcsorder.Key) (*RecordOutcome, error) {
	rec, err := s.records.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.ProcessRecord(ctx, rec, nil)
}

// ProcessRecord is the per-order boundary: every ledger failure and classification
// ends up on the record. Only Local Store failures are returned.
func (s *ProcessingServiceImpl) ProcessRecord(ctx context.Context, rec *vcsorder.Record, decision *tax.Decision) (*RecordOutcome, error) {
	logger := s.logger.With("orderId", rec.OrderID, "transactionType", rec.TransactionType)
	if runID := RunIDFromContext(ctx); runID != "" {
		logger = logger.With("run_id", runID)
	}

	if !rec.IsPending() {
		logger.Debug("Record already reconciled", "status", rec.Status)
		return s.unchanged(rec, CategoryForStatus(rec)), nil
	}

	// 1. Claim the record so a concurrent run leaves it alone
	if !s.dryRun {
		claimed, err := s.records.Claim(ctx, rec)
		if err != nil {
			if errors.Is(err, vcsorder.ErrClaimRejected{}) {
				logger.Info("Record claimed by another run, leaving it pending")
				return s.unchanged(rec, CategoryPending), nil
			}
			return nil, err
		}
		rec = claimed
	}

	// 2. Classify against the ledger
	res, err := s.matcher.Match(ctx, rec, decision)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("Run cancelled while matching, record stays pending", "error", err)
			return s.unchanged(rec, CategoryPending), nil
		}
		reason := classify(err)
		logger.Error("Matching failed", "reason", reason, "error", err)
		return s.finish(ctx, logger, rec, CategoryError, string(reason), func() error {
			return rec.MarkError(reason, err.Error())
		}, s.entry(ctx, rec, audit.ActionFailed, err.Error()))
	}

	// 3. Act on the classification
	switch res.Kind {
	case matcher.KindAlreadyBooked:
		note := ""
		if rec.Note != nil && *rec.Note == vcsorder.NoteReview {
			note = vcsorder.NoteReview
		}
		entry := s.entry(ctx, rec, audit.ActionShortCircuit, res.Detail)
		entry.LedgerInvoiceID = res.Invoice.ID
		return s.finish(ctx, logger, rec, CategoryAlreadyInvoiced, "", func() error {
			return rec.MarkInvoiced(res.Invoice.ID, res.Invoice.Name, note)
		}, entry)

	case matcher.KindUnresolvable:
		return s.finish(ctx, logger, rec, CategorySkipped, string(res.SkipReason), func() error {
			return rec.MarkSkipped(res.SkipReason, res.Detail)
		}, s.entry(ctx, rec, audit.ActionSkipped, res.Detail))

	case matcher.KindConflict:
		entry := s.entry(ctx, rec, audit.ActionConflict, res.Detail)
		if res.Invoice != nil {
			entry.LedgerInvoiceID = res.Invoice.ID
		}
		return s.finish(ctx, logger, rec, CategoryError, string(res.ErrorReason), func() error {
			return rec.MarkError(res.ErrorReason, res.Detail)
		}, entry)

	case matcher.KindResume:
		out, err := s.booker.Resume(ctx, rec, res.Invoice)
		if err != nil {
			return s.internalFailure(ctx, logger, rec, err)
		}
		return s.applyBooking(ctx, logger, rec, out)

	case matcher.KindNew:
		out, err := s.booker.Book(ctx, rec, res.Order, res.Decision)
		if err != nil {
			return s.internalFailure(ctx, logger, rec, err)
		}
		return s.applyBooking(ctx, logger, rec, out)
	}

	return s.internalFailure(ctx, logger, rec, fmt.Errorf("unknown match kind %q", res.Kind))
}

func (s *ProcessingServiceImpl) applyBooking(ctx context.Context, logger *slog.Logger, rec *vcsorder.Record, out *booking.Outcome) (*RecordOutcome, error) {
	var entries []*audit.Entry
	if out.PartnerCreated {
		entries = append(entries, s.entry(ctx, rec, audit.ActionPartnerCreated, "generic partner created"))
	}

	switch out.Status {
	case booking.StatusDryRun:
		return s.unchanged(rec, CategoryNew), nil

	case booking.StatusInvoiced:
		note := ""
		if out.Review {
			note = vcsorder.NoteReview
		}
		if !out.Adopted {
			created := s.entry(ctx, rec, audit.ActionInvoiceCreated, "")
			created.LedgerInvoiceID = out.InvoiceID
			entries = append(entries, created)
		}
		posted := s.entry(ctx, rec, audit.ActionInvoicePosted, out.InvoiceRef)
		posted.LedgerInvoiceID = out.InvoiceID
		entries = append(entries, posted)
		return s.finish(ctx, logger, rec, CategoryNew, "", func() error {
			return rec.MarkInvoiced(out.InvoiceID, out.InvoiceRef, note)
		}, entries...)

	case booking.StatusAwaitingPost:
		created := s.entry(ctx, rec, audit.ActionInvoiceCreated, "awaiting post: "+out.Message)
		created.LedgerInvoiceID = out.InvoiceID
		entries = append(entries, created)
		return s.finish(ctx, logger, rec, CategoryPending, vcsorder.NoteAwaitingPost, func() error {
			return rec.MarkAwaitingPost(out.InvoiceID, out.InvoiceRef)
		}, entries...)

	default:
		failed := s.entry(ctx, rec, audit.ActionFailed, out.Message)
		failed.LedgerInvoiceID = out.InvoiceID
		entries = append(entries, failed)
		return s.finish(ctx, logger, rec, CategoryError, string(out.ErrorReason), func() error {
			if out.InvoiceID > 0 {
				id := out.InvoiceID
				rec.LedgerInvoiceID = &id
			}
			return rec.MarkError(out.ErrorReason, out.Message)
		}, entries...)
	}
}

func (s *ProcessingServiceImpl) internalFailure(ctx context.Context, logger *slog.Logger, rec *vcsorder.Record, err error) (*RecordOutcome, error) {
	logger.Error("Booking failed", "error", err)
	return s.finish(ctx, logger, rec, CategoryError, string(shared.ErrorReasonInternal), func() error {
		return rec.MarkError(shared.ErrorReasonInternal, err.Error())
	}, s.entry(ctx, rec, audit.ActionFailed, err.Error()))
}

// finish applies a transition, persists it and journals it. In dry-run mode the
// record is left untouched.
func (s *ProcessingServiceImpl) finish(
	ctx context.Context,
	logger *slog.Logger,
	rec *vcsorder.Record,
	category Category,
	reason string,
	transition func() error,
	entries ...*audit.Entry,
) (*RecordOutcome, error) {
	if s.dryRun {
		logger.Info("Dry run: record not updated", "category", category, "reason", reason)
		return &RecordOutcome{Key: rec.Key(), Category: category, Status: rec.Status, Reason: reason, DryRun: true}, nil
	}

	if err := transition(); err != nil {
		return nil, fmt.Errorf("apply %s transition to %s: %w", category, rec.Key(), err)
	}
	// the store must outlive a cancelled run once the ledger was written
	if err := s.records.Save(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("Failed to save record", "category", category, "error", err)
		return nil, err
	}

	for _, e := range entries {
		e.Status = rec.Status
		if err := s.journal.Record(ctx, e); err != nil {
			logger.Error("Failed to journal record outcome", "action", e.Action, "error", err)
		}
	}
	s.metrics.RecordOutcome(string(category), reason)

	var invoiceID int64
	if rec.LedgerInvoiceID != nil {
		invoiceID = *rec.LedgerInvoiceID
	}
	logger.Info("Record processed", "category", category, "status", rec.Status, "reason", reason, "ledger_invoice_id", invoiceID)
	return &RecordOutcome{Key: rec.Key(), Category: category, Status: rec.Status, Reason: reason, InvoiceID: invoiceID}, nil
}

func (s *ProcessingServiceImpl) unchanged(rec *vcsorder.Record, category Category) *RecordOutcome {
	out := &RecordOutcome{Key: rec.Key(), Category: category, Status: rec.Status, DryRun: s.dryRun}
	if rec.LedgerInvoiceID != nil {
		out.InvoiceID = *rec.LedgerInvoiceID
	}
	return out
}

func (s *ProcessingServiceImpl) entry(ctx context.Context, rec *vcsorder.Record, action audit.Action, detail string) *audit.Entry {
	e := audit.NewEntry(RunIDFromContext(ctx), action, rec.OrderID, rec.TransactionType)
	e.Detail = detail
	e.DryRun = s.dryRun
	return e
}

// Requeue resets an error or skipped record to pending and processes it at once
func (s *ProcessingServiceImpl) Requeue(ctx context.Context, request *shared.RequeueRequest) (*RecordOutcome, error) {
	logger := s.logger
	if request.CorrelationID != "" {
		logger = s.logger.With("correlation_id", request.CorrelationID)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}
	key := vcsorder.Key{OrderID: request.OrderID, TransactionType: request.TransactionType}

	note := request.Note
	if note == "" {
		note = defaultRequeueNote
	}
	rec, err := s.records.Requeue(ctx, key, note)
	if err != nil {
		logger.Error("Requeue rejected", "orderId", key.OrderID, "transactionType", key.TransactionType, "error", err)
		return nil, err
	}

	entry := s.entry(ctx, rec, audit.ActionRequeued, note)
	if request.RequestedBy != "" {
		entry.Detail = note + " by " + request.RequestedBy
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		logger.Error("Failed to journal requeue", "error", err)
	}

	logger.Info("Record requeued", "orderId", key.OrderID, "transactionType", key.TransactionType, "requested_by", request.RequestedBy)
	return s.ProcessRecord(ctx, rec, nil)
}

// classify maps a matching failure onto the error reason stored on the record
func classify(err error) shared.ErrorReason {
	switch {
	case ledger.IsValidation(err), errors.Is(err, ledger.ErrReferenceNotFound{}):
		return shared.ErrorReasonValidation
	case ledger.IsTransient(err):
		return shared.ErrorReasonTransient
	default:
		return shared.ErrorReasonInternal
	}
}
