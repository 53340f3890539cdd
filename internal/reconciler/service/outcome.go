package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
)

// Category is the run summary bucket of a processed record
type Category string

const (
	CategoryNew             Category = "new"
	CategoryAlreadyInvoiced Category = "already-invoiced"
	CategorySkipped         Category = "skipped"
	CategoryError           Category = "error"
	CategoryPending         Category = "pending"
)

// RecordOutcome is what processing did to one record. In dry-run mode Category is
// the bucket the record would have landed in and Status is unchanged.
type RecordOutcome struct {
	Key       vcsorder.Key
	Category  Category
	Status    shared.RecordStatus
	Reason    string
	InvoiceID int64
	DryRun    bool
}

// CategoryForStatus buckets a record that was not processed in this run
func CategoryForStatus(rec *vcsorder.Record) Category {
	switch rec.Status {
	case shared.RecordStatusInvoiced:
		return CategoryAlreadyInvoiced
	case shared.RecordStatusSkipped:
		return CategorySkipped
	case shared.RecordStatusError:
		return CategoryError
	default:
		return CategoryPending
	}
}

// RunSummary holds the per-category counts of one ingestion run
type RunSummary struct {
	RunID           string    `json:"run_id"`
	ReportID        string    `json:"report_id"`
	ReportName      string    `json:"report_name"`
	Rows            int       `json:"rows"`
	Transactions    int       `json:"transactions"`
	DuplicateRows   int       `json:"duplicate_rows"`
	Orders          int       `json:"orders"`
	New             int       `json:"new"`
	AlreadyInvoiced int       `json:"already_invoiced"`
	Skipped         int       `json:"skipped"`
	Error           int       `json:"error"`
	Malformed       int       `json:"malformed"`
	Pending         int       `json:"pending"`
	DryRun          bool      `json:"dry_run"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Count adds one record to its bucket
func (s *RunSummary) Count(c Category) {
	switch c {
	case CategoryNew:
		s.New++
	case CategoryAlreadyInvoiced:
		s.AlreadyInvoiced++
	case CategorySkipped:
		s.Skipped++
	case CategoryError:
		s.Error++
	default:
		s.Pending++
	}
}

// Print writes the counts block printed by the ingest command
func (s *RunSummary) Print(w io.Writer) {
	fmt.Fprintf(w, "report:           %s (%s)\n", s.ReportName, s.ReportID)
	fmt.Fprintf(w, "run:              %s\n", s.RunID)
	if s.DryRun {
		fmt.Fprintln(w, "mode:             dry-run")
	}
	fmt.Fprintf(w, "rows:             %d\n", s.Rows)
	fmt.Fprintf(w, "orders:           %d\n", s.Orders)
	fmt.Fprintf(w, "new:              %d\n", s.New)
	fmt.Fprintf(w, "already-invoiced: %d\n", s.AlreadyInvoiced)
	fmt.Fprintf(w, "skipped:          %d\n", s.Skipped)
	fmt.Fprintf(w, "error:            %d\n", s.Error)
	fmt.Fprintf(w, "malformed:        %d\n", s.Malformed)
	fmt.Fprintf(w, "pending:          %d\n", s.Pending)
}

type runIDKey struct{}

// ContextWithRunID tags ctx with the id of the run processing it
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id set by ContextWithRunID, or ""
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
