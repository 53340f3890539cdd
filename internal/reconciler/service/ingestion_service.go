package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/tax"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/platform/messaging/producers"
	"github.com/vcs-invoice-reconciler/internal/reconciler/normalizer"
)

type IngestionServiceImpl struct {
	normalizer *normalizer.Normalizer
	preparer   Preparer
	records    RecordManager
	processor  ProcessingService
	dlq        producers.DeadLetterPublisher
	metrics    OutcomeMetrics
	dryRun     bool
	logger     *slog.Logger
}

func NewIngestionService(
	norm *normalizer.Normalizer,
	preparer Preparer,
	records RecordManager,
	processor ProcessingService,
	dlq producers.DeadLetterPublisher,
	metrics OutcomeMetrics,
	dryRun bool,
	logger *slog.Logger,
) IngestionService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &IngestionServiceImpl{
		normalizer: norm,
		preparer:   preparer,
		records:    records,
		processor:  processor,
		dlq:        dlq,
		metrics:    metrics,
		dryRun:     dryRun,
		logger:     logger,
	}
}

type workItem struct {
	record   *vcsorder.Record
	decision *tax.Decision
}

// IngestReport normalizes a report, stores one record per order and transaction
// type and reconciles the pending ones sequentially. A returned error means the run
// could not complete; the summary still holds the counts reached so far. Cancelling
// ctx stops the run between two orders and leaves the rest pending.
func (s *IngestionServiceImpl) IngestReport(ctx context.Context, name string, data []byte) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:      uuid.NewString(),
		ReportName: name,
		DryRun:     s.dryRun,
		StartedAt:  time.Now().UTC(),
	}
	ctx = ContextWithRunID(ctx, summary.RunID)
	logger := s.logger.With("run_id", summary.RunID, "report", name)
	defer func() { summary.FinishedAt = time.Now().UTC() }()

	// 1. Normalize
	res, err := s.normalizer.Normalize(data)
	if err != nil {
		logger.Error("Report could not be normalized", "error", err)
		return summary, fmt.Errorf("normalize report %s: %w", name, err)
	}
	summary.ReportID = res.ReportID
	summary.Rows = res.Rows
	summary.Transactions = len(res.Transactions)
	summary.DuplicateRows = res.Duplicates
	summary.Malformed = len(res.Malformed)
	logger = logger.With("report_id", res.ReportID)

	s.deadLetter(ctx, logger, res)

	// 2. Aggregate and set aside records this run has nothing to do for
	aggs := normalizer.Aggregate(res.Transactions)
	summary.Orders = len(aggs)

	var open []*report.OrderAggregate
	for _, agg := range aggs {
		key := vcsorder.Key{OrderID: agg.OrderID, TransactionType: agg.Type}
		rec, err := s.records.Get(ctx, key)
		if err != nil && !errors.Is(err, vcsorder.ErrRecordNotFound{}) {
			return summary, fmt.Errorf("load record %s: %w", key, err)
		}
		if rec != nil && !rec.IsPending() {
			summary.Count(CategoryForStatus(rec))
			continue
		}
		open = append(open, agg)
	}
	logger.Info("Report aggregated", "orders", len(aggs), "open", len(open))

	// 3. Resolve SKUs and decide taxes in parallel
	prepared, err := s.preparer.Prepare(ctx, open)
	if err != nil {
		logger.Error("Aggregates could not be prepared", "error", err)
		summary.Pending += len(open)
		return summary, fmt.Errorf("prepare aggregates: %w", err)
	}

	// 4. Store records
	work := make([]workItem, 0, len(prepared))
	for _, p := range prepared {
		rec, created, err := s.records.Register(ctx, p.Aggregate)
		if err != nil {
			return summary, fmt.Errorf("register %s/%s: %w", p.Aggregate.OrderID, p.Aggregate.Type, err)
		}
		if created {
			logger.Debug("Record created", "orderId", rec.OrderID, "transactionType", rec.TransactionType)
		}
		if !rec.IsPending() {
			summary.Count(CategoryForStatus(rec))
			continue
		}
		work = append(work, workItem{record: rec, decision: p.Decision})
	}

	// 5. Reconcile one order at a time
	for i, item := range work {
		if ctx.Err() != nil {
			remaining := len(work) - i
			logger.Warn("Run cancelled, remaining records stay pending", "remaining", remaining)
			summary.Pending += remaining
			break
		}
		out, err := s.process(ctx, item)
		if err != nil {
			logger.Error("Record could not be processed",
				"orderId", item.record.OrderID,
				"transactionType", item.record.TransactionType,
				"error", err,
			)
			summary.Pending++
			continue
		}
		summary.Count(out.Category)
	}

	logger.Info("Report ingested",
		"new", summary.New,
		"already_invoiced", summary.AlreadyInvoiced,
		"skipped", summary.Skipped,
		"error", summary.Error,
		"malformed", summary.Malformed,
		"pending", summary.Pending,
	)
	return summary, nil
}

// process keeps one order's failure, panics included, inside its own boundary
func (s *IngestionServiceImpl) process(ctx context.Context, item workItem) (out *RecordOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while processing %s: %v", item.record.Key(), p)
		}
	}()
	return s.processor.ProcessRecord(ctx, item.record, item.decision)
}

func (s *IngestionServiceImpl) deadLetter(ctx context.Context, logger *slog.Logger, res *normalizer.Result) {
	if len(res.Malformed) == 0 {
		return
	}
	s.metrics.AddMalformedRows(len(res.Malformed))
	for _, row := range res.Malformed {
		logger.Warn("Malformed report row dropped", "line", row.Line, "reason", row.Reason)
		if s.dlq == nil {
			continue
		}
		key := res.ReportID + ":" + strconv.Itoa(row.Line)
		if err := s.dlq.PublishToDLQ(ctx, key, []byte(row.Raw), row.Reason); err != nil {
			logger.Error("Failed to dead-letter malformed row", "line", row.Line, "error", err)
		}
	}
}
