package service

import (
	"context"

	"github.com/vcs-invoice-reconciler/internal/domain/audit"
	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/tax"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/reconciler/booking"
	"github.com/vcs-invoice-reconciler/internal/reconciler/matcher"
)

// ProcessingService reconciles stored records against the ledger, one record at a time.
type ProcessingService interface {
	// ProcessRecord matches and books a loaded record. decision may be nil.
	ProcessRecord(ctx context.Context, rec *vcsorder.Record, decision *tax.Decision) (*RecordOutcome, error)
	// ProcessKey loads the record and processes it when still pending
	ProcessKey(ctx context.Context, key vcsorder.Key) (*RecordOutcome, error)
	// Requeue resets a parked record to pending and processes it again
	Requeue(ctx context.Context, request *shared.RequeueRequest) (*RecordOutcome, error)
}

// IngestionService turns one report file into reconciled records
type IngestionService interface {
	IngestReport(ctx context.Context, name string, data []byte) (*RunSummary, error)
}

// RecordMatcher classifies a pending record against the ledger
type RecordMatcher interface {
	Match(ctx context.Context, rec *vcsorder.Record, decision *tax.Decision) (*matcher.Result, error)
}

// Booker creates and posts ledger documents
type Booker interface {
	Book(ctx context.Context, rec *vcsorder.Record, order *ledger.SalesOrder, decision *tax.Decision) (*booking.Outcome, error)
	Resume(ctx context.Context, rec *vcsorder.Record, invoice *ledger.Invoice) (*booking.Outcome, error)
}

// RecordManager owns every Local Store transition of a record
type RecordManager interface {
	Get(ctx context.Context, key vcsorder.Key) (*vcsorder.Record, error)
	// Register stores a freshly prepared aggregate, or refreshes the aggregate of a
	// record still waiting for its first booking. It reports whether a record was created.
	Register(ctx context.Context, agg *report.OrderAggregate) (*vcsorder.Record, bool, error)
	Claim(ctx context.Context, rec *vcsorder.Record) (*vcsorder.Record, error)
	Save(ctx context.Context, rec *vcsorder.Record) error
	Requeue(ctx context.Context, key vcsorder.Key, note string) (*vcsorder.Record, error)
}

// AuditRecorder appends to the reconciliation journal
type AuditRecorder interface {
	Record(ctx context.Context, entry *audit.Entry) error
}

// OutcomeMetrics counts per-record outcomes and dropped rows
type OutcomeMetrics interface {
	RecordOutcome(status, reason string)
	AddMalformedRows(n int)
}

// Prepared is an aggregate with resolved SKUs and, when the decision table covers
// it, a precomputed tax decision
type Prepared struct {
	Aggregate *report.OrderAggregate
	Decision  *tax.Decision
}

// Preparer runs the pure stages of the pipeline over a batch of aggregates
type Preparer interface {
	Prepare(ctx context.Context, aggs []*report.OrderAggregate) ([]Prepared, error)
}

type noopMetrics struct{}

func (noopMetrics) RecordOutcome(string, string) {}
func (noopMetrics) AddMalformedRows(int)         {}
