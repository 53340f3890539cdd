package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vcs-invoice-reconciler/internal/domain/audit"
	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
	"github.com/vcs-invoice-reconciler/internal/domain/repair"
	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/tax"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/platform/messaging/producers"
	"github.com/vcs-invoice-reconciler/internal/platform/persistence"
)

// Decider computes the tax treatment of an aggregate
type Decider interface {
	DecideAggregate(agg *report.OrderAggregate) (tax.Decision, error)
}

// RepairMetrics counts emitted repair actions
type RepairMetrics interface {
	RecordRepairAction(kind string)
}

type noopMetrics struct{}

func (noopMetrics) RecordRepairAction(string) {}

// Config bounds one sweep
type Config struct {
	BatchSize    int
	LookbackDays int
	DryRun       bool
}

// Report summarises one sweep
type Report struct {
	RunID               string           `json:"run_id"`
	StartedAt           time.Time        `json:"started_at"`
	FinishedAt          time.Time        `json:"finished_at"`
	InvoicedChecked     int              `json:"invoiced_checked"`
	OrphansRepaired     int              `json:"orphans_repaired"`
	DuplicateGroups     int              `json:"duplicate_groups"`
	DuplicateCandidates int              `json:"duplicate_candidates"`
	UnlinkedInvoices    int              `json:"unlinked_invoices"`
	TaxDrift            int              `json:"tax_drift"`
	DryRun              bool             `json:"dry_run"`
	Actions             []*repair.Action `json:"actions"`
}

// Sweeper finds drift between the Local Store and the ledger. Its only write is
// resetting orphaned records to pending; everything else is reported.
type Sweeper struct {
	records   vcsorder.Repository
	txRunner  persistence.TxRunner
	gateway   ledger.Gateway
	decider   Decider
	journal   audit.Repository
	publisher producers.MessagePublisher
	metrics   RepairMetrics
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func NewSweeper(
	records vcsorder.Repository,
	txRunner persistence.TxRunner,
	gateway ledger.Gateway,
	decider Decider,
	journal audit.Repository,
	publisher producers.MessagePublisher,
	metrics RepairMetrics,
	cfg Config,
	logger *slog.Logger,
) *Sweeper {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		records:   records,
		txRunner:  txRunner,
		gateway:   gateway,
		decider:   decider,
		journal:   journal,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger.With("component", "sweeper"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one full sweep. Ledger failures abort the sweep; the orphan resets
// already applied stay applied.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	rep := &Report{RunID: uuid.NewString(), StartedAt: s.now(), DryRun: s.cfg.DryRun}
	logger := s.logger.With("run_id", rep.RunID)
	logger.Info("Starting reconciliation sweep", "dry_run", s.cfg.DryRun, "lookback_days", s.cfg.LookbackDays)

	if err := s.sweepInvoiced(ctx, rep); err != nil {
		return rep, fmt.Errorf("sweep invoiced records: %w", err)
	}
	if err := s.findDuplicates(ctx, rep); err != nil {
		return rep, fmt.Errorf("find duplicate invoices: %w", err)
	}

	rep.FinishedAt = s.now()
	logger.Info("Reconciliation sweep finished",
		"checked", rep.InvoicedChecked,
		"orphans_repaired", rep.OrphansRepaired,
		"duplicate_groups", rep.DuplicateGroups,
		"duplicate_candidates", rep.DuplicateCandidates,
		"unlinked_invoices", rep.UnlinkedInvoices,
		"tax_drift", rep.TaxDrift,
	)
	return rep, nil
}

type liveInvoice struct {
	record  *vcsorder.Record
	invoice ledger.Invoice
}

// sweepInvoiced pages through invoiced records, resetting those whose invoice is
// gone and inspecting the lines of those whose invoice is live
func (s *Sweeper) sweepInvoiced(ctx context.Context, rep *Report) error {
	after := vcsorder.Key{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.records.ListByStatus(ctx, shared.RecordStatusInvoiced, after, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		after = page[len(page)-1].Key()
		rep.InvoicedChecked += len(page)

		ids := make([]int64, 0, len(page))
		for _, rec := range page {
			if rec.LedgerInvoiceID != nil {
				ids = append(ids, *rec.LedgerInvoiceID)
			}
		}
		invoices, err := s.gateway.GetInvoices(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[int64]ledger.Invoice, len(invoices))
		for _, inv := range invoices {
			byID[inv.ID] = inv
		}

		var live []liveInvoice
		for _, rec := range page {
			var inv ledger.Invoice
			found := false
			if rec.LedgerInvoiceID != nil {
				inv, found = byID[*rec.LedgerInvoiceID]
			}
			if !found || inv.IsCancelled() {
				if err := s.repairOrphan(ctx, rep, rec, found); err != nil {
					return err
				}
				continue
			}
			live = append(live, liveInvoice{record: rec, invoice: inv})
		}

		if err := s.inspectLines(ctx, rep, live); err != nil {
			return err
		}

		if len(page) < s.cfg.BatchSize {
			return nil
		}
	}
}

func (s *Sweeper) repairOrphan(ctx context.Context, rep *Report, rec *vcsorder.Record, cancelled bool) error {
	var staleID int64
	if rec.LedgerInvoiceID != nil {
		staleID = *rec.LedgerInvoiceID
	}
	state := "no longer exists"
	if cancelled {
		state = "is cancelled"
	}

	action := repair.NewAction(rep.RunID, repair.KindOrphanReset,
		fmt.Sprintf("ledger invoice %d %s; record reset to pending", staleID, state))
	action.OrderID = rec.OrderID
	action.TransactionType = rec.TransactionType
	action.LedgerInvoiceID = staleID

	if !s.cfg.DryRun {
		applied := false
		err := s.txRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
			repo := s.records.WithTx(tx)
			locked, err := repo.LockForUpdate(ctx, rec.Key())
			if err != nil {
				return err
			}
			// another run may have moved the record on since it was listed
			if locked.Status != shared.RecordStatusInvoiced || locked.LedgerInvoiceID == nil || *locked.LedgerInvoiceID != staleID {
				return nil
			}
			locked.ResetToPending(vcsorder.NoteOrphanReset)
			if err := repo.Update(ctx, locked); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			if errors.Is(err, vcsorder.ErrConcurrentModification{}) {
				s.logger.Warn("Orphan reset lost a race, skipping", "orderId", rec.OrderID, "transactionType", rec.TransactionType)
				return nil
			}
			return err
		}
		if !applied {
			return nil
		}
		action.Applied = true
	}

	rep.OrphansRepaired++
	s.emit(ctx, rep, action)
	return nil
}

// inspectLines reports invoices with product lines not linked to any order line and
// lines whose tax differs from the one the decision table gives today
func (s *Sweeper) inspectLines(ctx context.Context, rep *Report, live []liveInvoice) error {
	if len(live) == 0 {
		return nil
	}
	ids := make([]int64, len(live))
	for i, l := range live {
		ids[i] = l.invoice.ID
	}
	lines, err := s.gateway.ListInvoiceLines(ctx, ids)
	if err != nil {
		return err
	}
	byMove := make(map[int64][]ledger.InvoiceLine)
	for _, line := range lines {
		byMove[line.MoveID] = append(byMove[line.MoveID], line)
	}

	for _, l := range live {
		invLines := byMove[l.invoice.ID]

		unlinked := 0
		for _, line := range invLines {
			if line.ProductID != 0 && len(line.SaleLineIDs) == 0 {
				unlinked++
			}
		}
		if unlinked > 0 {
			rep.UnlinkedInvoices++
			action := repair.NewAction(rep.RunID, repair.KindUnlinkedLines,
				fmt.Sprintf("invoice %d has %d product lines without a sales order line", l.invoice.ID, unlinked))
			s.attach(action, l)
			s.emit(ctx, rep, action)
		}

		drift, expected, err := s.taxDrift(ctx, l.record, invLines)
		if err != nil {
			return err
		}
		if drift > 0 {
			rep.TaxDrift++
			action := repair.NewAction(rep.RunID, repair.KindTaxDrift,
				fmt.Sprintf("invoice %d has %d lines not taxed with %s", l.invoice.ID, drift, expected))
			s.attach(action, l)
			s.emit(ctx, rep, action)
		}
	}
	return nil
}

func (s *Sweeper) taxDrift(ctx context.Context, rec *vcsorder.Record, lines []ledger.InvoiceLine) (int, string, error) {
	if rec.Aggregate == nil || len(lines) == 0 {
		return 0, "", nil
	}
	decision, err := s.decider.DecideAggregate(rec.Aggregate)
	if err != nil {
		// a record booked under a rule that no longer exists surfaces on requeue
		return 0, "", nil
	}
	taxID, err := s.gateway.ResolveTaxID(ctx, decision.TaxCode)
	if err != nil {
		if errors.Is(err, ledger.ErrReferenceNotFound{}) {
			s.logger.Warn("Expected tax missing from ledger", "tax_code", decision.TaxCode)
			return 0, "", nil
		}
		return 0, "", err
	}

	drift := 0
	for _, line := range lines {
		if !containsID(line.TaxIDs, taxID) {
			drift++
		}
	}
	return drift, decision.TaxCode, nil
}

// findDuplicates groups recent ledger documents by origin, type, amount and date.
// In each group one member is kept, preferring the one a record points at, and the
// others are reported as cancellation candidates. Nothing is cancelled.
func (s *Sweeper) findDuplicates(ctx context.Context, rep *Report) error {
	to := s.now()
	from := to.AddDate(0, 0, -s.cfg.LookbackDays)
	invoices, err := s.gateway.ListInvoices(ctx, from, to)
	if err != nil {
		return err
	}

	groups := make(map[string][]ledger.Invoice)
	for _, inv := range invoices {
		if inv.IsCancelled() || strings.TrimSpace(inv.Origin) == "" {
			continue
		}
		key := duplicateKey(inv)
		groups[key] = append(groups[key], inv)
	}

	keys := make([]string, 0, len(groups))
	for k, members := range groups {
		if len(members) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		members := groups[key]
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

		keep, err := s.keeper(ctx, members)
		if err != nil {
			return err
		}
		rep.DuplicateGroups++
		for _, inv := range members {
			if inv.ID == keep {
				continue
			}
			rep.DuplicateCandidates++
			action := repair.NewAction(rep.RunID, repair.KindDuplicateCandidate,
				fmt.Sprintf("invoice %d duplicates invoice %d (origin %s, amount %s, date %s)",
					inv.ID, keep, inv.Origin, inv.AmountTotal.StringFixed(2), inv.InvoiceDate.Format("2006-01-02")))
			action.LedgerInvoiceID = inv.ID
			action.GroupKey = key
			s.emit(ctx, rep, action)
		}
	}
	return nil
}

func (s *Sweeper) keeper(ctx context.Context, members []ledger.Invoice) (int64, error) {
	for _, inv := range members {
		recs, err := s.records.ListByLedgerInvoiceID(ctx, inv.ID)
		if err != nil {
			return 0, err
		}
		if len(recs) > 0 {
			return inv.ID, nil
		}
	}
	return members[0].ID, nil
}

func (s *Sweeper) attach(action *repair.Action, l liveInvoice) {
	action.OrderID = l.record.OrderID
	action.TransactionType = l.record.TransactionType
	action.LedgerInvoiceID = l.invoice.ID
}

// emit journals and publishes an action. Journal and broker failures are logged;
// the sweep result stands without them.
func (s *Sweeper) emit(ctx context.Context, rep *Report, action *repair.Action) {
	rep.Actions = append(rep.Actions, action)
	s.metrics.RecordRepairAction(string(action.Kind))

	logger := s.logger.With("run_id", rep.RunID, "kind", action.Kind, "ledger_invoice_id", action.LedgerInvoiceID)
	logger.Info("Repair action", "detail", action.Detail, "applied", action.Applied)

	entry := audit.FromRepairAction(action)
	entry.DryRun = s.cfg.DryRun
	if s.journal != nil {
		if err := s.journal.Append(ctx, entry); err != nil {
			logger.Error("Failed to journal repair action", "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, string(action.Kind)+":"+action.ID.String(), action); err != nil {
			logger.Error("Failed to publish repair action", "error", err)
		}
	}
}

func duplicateKey(inv ledger.Invoice) string {
	return strings.Join([]string{
		inv.Origin,
		string(inv.MoveType),
		inv.AmountTotal.Round(2).StringFixed(2),
		inv.InvoiceDate.UTC().Format("2006-01-02"),
	}, "|")
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
