package components

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcs-invoice-reconciler/internal/config"
	"github.com/vcs-invoice-reconciler/internal/domain/audit"
	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
	"github.com/vcs-invoice-reconciler/internal/domain/repair"
	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/platform/resilience"
	"github.com/vcs-invoice-reconciler/internal/reconciler/booking"
	"github.com/vcs-invoice-reconciler/internal/reconciler/ledgertest"
	"github.com/vcs-invoice-reconciler/internal/reconciler/service"
	"github.com/vcs-invoice-reconciler/internal/reconciler/storetest"
	"github.com/vcs-invoice-reconciler/internal/reconciler/sweeper"
)

const reportHeader = "Marketplace ID\tOrder ID\tTransaction Type\tTransaction ID\tShipment Date\tSKU\tQuantity\t" +
	"Ship From Country\tShip To Country\tBuyer Tax Registration\tCurrency\t" +
	"OUR_PRICE Tax Inclusive Selling Price\tOUR_PRICE Tax Amount"

func reportFile(rows ...string) []byte {
	return []byte(reportHeader + "\n" + strings.Join(rows, "\n") + "\n")
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// harness wires the real services over in-memory stores and an in-memory ledger
type harness struct {
	t       *testing.T
	ledger  *ledgertest.Ledger
	records *storetest.Records
	journal *storetest.AuditLog
	dlq     *storetest.Publisher
	repairs *storetest.Publisher
	dryRun  bool

	processor service.ProcessingService
	ingestion service.IngestionService
	sweeper   *sweeper.Sweeper
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:       t,
		ledger:  ledgertest.New(),
		records: storetest.NewRecords(),
		journal: &storetest.AuditLog{},
		dlq:     &storetest.Publisher{},
		repairs: &storetest.Publisher{},
	}
	h.build()
	return h
}

// build creates fresh services over the same stores, as a new process would
func (h *harness) build() {
	cfg := &config.Config{
		Reconcile: config.ReconcileConfig{
			AmountEpsilon:         dec("0.01"),
			BatchSize:             50,
			ClaimLease:            time.Minute,
			DryRun:                h.dryRun,
			DuplicateLookbackDays: 30,
		},
		Sweeper:    config.SweeperConfig{BatchSize: 2},
		WorkerPool: config.WorkerPoolConfig{Size: 4},
	}
	deps := Dependencies{
		Records:  h.records,
		TxRunner: storetest.Tx{},
		Gateway:  h.ledger,
		Retry: &resilience.RetryConfig{
			MaxAttempts:     3,
			InitialDelay:    time.Millisecond,
			MaxDelay:        2 * time.Millisecond,
			BackoffFactor:   2,
			RetryableErrors: ledger.IsTransient,
		},
		Journal: h.journal,
		DLQ:     h.dlq,
		Repairs: h.repairs,
		Logger:  newTestLogger(),
		Config:  cfg,
	}

	h.processor = CreateProcessingService(deps)
	ingestion, shutdown, err := CreateIngestionService(deps, h.processor)
	require.NoError(h.t, err)
	h.t.Cleanup(shutdown)
	h.ingestion = ingestion
	h.sweeper = CreateSweeper(deps)
}

func (h *harness) ingest(data []byte) *service.RunSummary {
	summary, err := h.ingestion.IngestReport(context.Background(), "vcs.tsv", data)
	require.NoError(h.t, err)
	return summary
}

func (h *harness) record(orderID string, txType shared.TransactionType) *vcsorder.Record {
	rec, err := h.records.Get(context.Background(), vcsorder.Key{OrderID: orderID, TransactionType: txType})
	require.NoError(h.t, err)
	return rec
}

// addOrder registers a sales order whose single line carries the given catalog SKU
func (h *harness) addOrder(name, total, sku string) int64 {
	productID := h.ledger.AddProduct(sku)
	return h.ledger.AddOrder(
		ledger.SalesOrder{Name: name, AmountTotal: dec(total), Currency: "EUR"},
		ledger.OrderLine{ProductID: productID, SKU: sku, Quantity: dec("1"), PriceTotal: dec(total)},
	)
}

var ord1Report = reportFile(
	"A1PA6795UKMFR9\tORD-1\tSHIPMENT\tT1\t2024-03-04\tA-FBM\t1\tDE\tDE\t\tEUR\t10.00\t1.60",
	"A1PA6795UKMFR9\tORD-1\tSHIPMENT\tT2\t2024-03-04\tA-stickerless\t1\tDE\tDE\t\tEUR\t5.00\t0.80",
)

func TestScenario_AggregatedOrderIsBookedOnce(t *testing.T) {
	h := newHarness(t)
	h.addOrder("ORD-1", "15.00", "A")

	first := h.ingest(ord1Report)

	assert.Equal(t, 1, first.Orders)
	assert.Equal(t, 1, first.New)
	assert.Equal(t, 0, first.Error+first.Skipped+first.Pending+first.Malformed)

	invoices := h.ledger.Invoices()
	require.Len(t, invoices, 1)
	invoice := invoices[0]
	assert.Equal(t, ledger.InvoiceStatePosted, invoice.State)
	assert.Equal(t, "ORD-1", invoice.Origin)
	assert.Equal(t, "VCS/ORD-1/SHIPMENT", invoice.Ref)
	assert.True(t, invoice.AmountTotal.Equal(dec("15.00")), invoice.AmountTotal.String())

	lines := h.ledger.InvoiceLines(invoice.ID)
	require.Len(t, lines, 1)
	assert.Equal(t, "A", lines[0].Name)
	assert.NotZero(t, lines[0].ProductID)
	assert.NotEmpty(t, lines[0].SaleLineIDs)
	taxID, ok := h.ledger.ReferenceID("account.tax", "DE*VAT 19%")
	require.True(t, ok)
	assert.Equal(t, []int64{taxID}, lines[0].TaxIDs)

	rec := h.record("ORD-1", shared.TransactionTypeShipment)
	assert.Equal(t, shared.RecordStatusInvoiced, rec.Status)
	assert.Equal(t, invoice.ID, *rec.LedgerInvoiceID)
	assert.Equal(t, invoice.Name, *rec.LedgerInvoiceRef)
	assert.Nil(t, rec.Note)
	assert.Equal(t, 1, h.journal.Count(audit.ActionInvoicePosted))

	// a second run over the same file, as a fresh process
	h.ledger.ResetCalls()
	h.build()
	second := h.ingest(ord1Report)

	assert.Equal(t, first.ReportID, second.ReportID)
	assert.Equal(t, 1, second.AlreadyInvoiced)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, 0, h.ledger.TotalCalls())
	assert.Len(t, h.ledger.Invoices(), 1)
	assert.Len(t, h.records.All(), 1)
}

func TestScenario_ConflictIssuesNoWrites(t *testing.T) {
	h := newHarness(t)
	h.addOrder("ORD-9", "20.00", "A")
	h.ledger.AddInvoice(ledger.Invoice{
		Origin:      "ORD-9",
		MoveType:    ledger.MoveTypeInvoice,
		State:       ledger.InvoiceStatePosted,
		AmountTotal: dec("25.00"),
		InvoiceDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	})
	h.ledger.ResetCalls()

	summary := h.ingest(reportFile("A1PA6795UKMFR9\tORD-9\tSHIPMENT\tT1\t2024-03-04\tA\t1\tDE\tDE\t\tEUR\t20.00\t3.19"))

	assert.Equal(t, 1, summary.Error)
	assert.Equal(t, 0, h.ledger.WriteCalls())
	rec := h.record("ORD-9", shared.TransactionTypeShipment)
	assert.Equal(t, shared.RecordStatusError, rec.Status)
	assert.Equal(t, shared.ErrorReasonConflict, *rec.ErrorReason)
	assert.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, 1, h.journal.Count(audit.ActionConflict))
}

func TestScenario_RequeueAfterManualCorrection(t *testing.T) {
	h := newHarness(t)
	h.addOrder("ORD-9", "20.00", "A")
	foreign := h.ledger.AddInvoice(ledger.Invoice{
		Origin:      "ORD-9",
		MoveType:    ledger.MoveTypeInvoice,
		State:       ledger.InvoiceStatePosted,
		AmountTotal: dec("25.00"),
		InvoiceDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	})
	h.ingest(reportFile("A1PA6795UKMFR9\tORD-9\tSHIPMENT\tT1\t2024-03-04\tA\t1\tDE\tDE\t\tEUR\t20.00\t3.19"))
	require.Equal(t, shared.RecordStatusError, h.record("ORD-9", shared.TransactionTypeShipment).Status)

	// an operator cancels the wrong invoice and requeues
	h.ledger.SetInvoiceState(foreign, ledger.InvoiceStateCancelled)
	out, err := h.processor.Requeue(context.Background(), &shared.RequeueRequest{
		OrderID:         "ORD-9",
		TransactionType: shared.TransactionTypeShipment,
		RequestedBy:     "ops",
	})

	require.NoError(t, err)
	assert.Equal(t, service.CategoryNew, out.Category)
	rec := h.record("ORD-9", shared.TransactionTypeShipment)
	assert.Equal(t, shared.RecordStatusInvoiced, rec.Status)
	assert.NotEqual(t, foreign, *rec.LedgerInvoiceID)
	assert.Equal(t, 1, h.journal.Count(audit.ActionRequeued))

	_, err = h.processor.Requeue(context.Background(), &shared.RequeueRequest{
		OrderID:         "ORD-9",
		TransactionType: shared.TransactionTypeShipment,
	})
	assert.ErrorIs(t, err, service.ErrNotRequeueable)
}

func TestScenario_OrphanRepairThenRematch(t *testing.T) {
	h := newHarness(t)
	h.addOrder("ORD-1", "15.00", "A")
	h.ingest(ord1Report)
	booked := *h.record("ORD-1", shared.TransactionTypeShipment).LedgerInvoiceID

	h.ledger.DeleteInvoice(booked)
	report, err := h.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphansRepaired)
	rec := h.record("ORD-1", shared.TransactionTypeShipment)
	assert.Equal(t, shared.RecordStatusPending, rec.Status)
	assert.Nil(t, rec.LedgerInvoiceID)
	require.NotNil(t, rec.Note)
	assert.Equal(t, vcsorder.NoteOrphanReset, *rec.Note)

	require.Len(t, h.repairs.Messages(), 1)
	var action repair.Action
	require.NoError(t, json.Unmarshal(h.repairs.Messages()[0].Value, &action))
	assert.Equal(t, repair.KindOrphanReset, action.Kind)
	assert.True(t, action.Applied)
	assert.Equal(t, booked, action.LedgerInvoiceID)
	assert.Equal(t, 1, h.journal.Count(audit.ActionRepair))

	out, err := h.processor.ProcessKey(context.Background(), rec.Key())

	require.NoError(t, err)
	assert.Equal(t, service.CategoryNew, out.Category)
	rec = h.record("ORD-1", shared.TransactionTypeShipment)
	assert.Equal(t, shared.RecordStatusInvoiced, rec.Status)
	assert.NotEqual(t, booked, *rec.LedgerInvoiceID)
	assert.Len(t, h.ledger.Invoices(), 1)
}

func TestScenario_CancelledInvoiceCountsAsOrphan(t *testing.T) {
	h := newHarness(t)
	h.addOrder("ORD-1", "15.00", "A")
	h.ingest(ord1Report)
	booked := *h.record("ORD-1", shared.TransactionTypeShipment).LedgerInvoiceID
	h.ledger.SetInvoiceState(booked, ledger.InvoiceStateCancelled)

	report, err := h.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphansRepaired)
	assert.Equal(t, shared.RecordStatusPending, h.record("ORD-1", shared.TransactionTypeShipment).Status)

	// the cancelled document is ignored when matching again
	out, err := h.processor.ProcessKey(context.Background(), vcsorder.Key{OrderID: "ORD-1", TransactionType: shared.TransactionTypeShipment})
	require.NoError(t, err)
	assert.Equal(t, service.CategoryNew, out.Category)
}

func TestScenario_SweepInDryRunOnlyReports(t *testing.T) {
	h := newHarness(t)
	h.addOrder("ORD-1", "15.00", "A")
	h.ingest(ord1Report)
	booked := *h.record("ORD-1", shared.TransactionTypeShipment).LedgerInvoiceID
	h.ledger.DeleteInvoice(booked)

	h.dryRun = true
	h.build()
	report, err := h.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.OrphansRepaired)
	require.Len(t, report.Actions, 1)
	assert.False(t, report.Actions[0].Applied)
	assert.Equal(t, shared.RecordStatusInvoiced, h.record("ORD-1", shared.TransactionTypeShipment).Status)
}

func TestScenario_DuplicateDetection(t *testing.T) {
	h := newHarness(t)
	day := time.Now().UTC().AddDate(0, 0, -2).Truncate(24 * time.Hour)
	dup := func(amount string) int64 {
		return h.ledger.AddInvoice(ledger.Invoice{
			Origin:      "ORD-5",
			MoveType:    ledger.MoveTypeInvoice,
			State:       ledger.InvoiceStatePosted,
			AmountTotal: dec(amount),
			InvoiceDate: day,
		})
	}
	keep := dup("30.00")
	second := dup("30.00")
	third := dup("30.000")
	other := dup("31.00")

	report, err := h.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.DuplicateGroups)
	assert.Equal(t, 2, report.DuplicateCandidates)

	var candidates []int64
	for _, a := range report.Actions {
		if a.Kind == repair.KindDuplicateCandidate {
			candidates = append(candidates, a.LedgerInvoiceID)
			assert.False(t, a.Applied)
		}
	}
	assert.ElementsMatch(t, []int64{second, third}, candidates)
	assert.NotContains(t, candidates, keep)
	assert.NotContains(t, candidates, other)
	assert.Equal(t, 0, h.ledger.WriteCalls())
}

func TestScenario_DuplicateKeepsTheBookedMember(t *testing.T) {
	h := newHarness(t)
	day := time.Now().UTC().Truncate(24 * time.Hour)
	manual := h.ledger.AddInvoice(ledger.Invoice{
		Origin: "ORD-7", MoveType: ledger.MoveTypeInvoice, State: ledger.InvoiceStatePosted,
		AmountTotal: dec("12.00"), InvoiceDate: day,
	})
	ours := h.ledger.AddInvoice(ledger.Invoice{
		Origin: "ORD-7", MoveType: ledger.MoveTypeInvoice, State: ledger.InvoiceStatePosted,
		AmountTotal: dec("12.00"), InvoiceDate: day,
	})
	rec := invoicedRecord(t, "ORD-7", ours)
	h.records.Put(rec)

	report, err := h.sweeper.Run(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, report.DuplicateCandidates)
	for _, a := range report.Actions {
		if a.Kind == repair.KindDuplicateCandidate {
			assert.Equal(t, manual, a.LedgerInvoiceID)
		}
	}
}

func TestScenario_UnlinkedLinesAndTaxDriftAreReported(t *testing.T) {
	h := newHarness(t)
	wrongTax := h.ledger.AddReference("account.tax", "DE*VAT 7%")
	invoiceID := h.ledger.AddInvoice(
		ledger.Invoice{
			Origin: "ORD-3", MoveType: ledger.MoveTypeInvoice, State: ledger.InvoiceStatePosted,
			AmountTotal: dec("12.00"), InvoiceDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		},
		ledger.InvoiceLine{ProductID: 77, Name: "A", TaxIDs: []int64{wrongTax}},
	)
	h.records.Put(invoicedRecord(t, "ORD-3", invoiceID))

	report, err := h.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, report.OrphansRepaired)
	assert.Equal(t, 1, report.UnlinkedInvoices)
	assert.Equal(t, 1, report.TaxDrift)
	assert.Equal(t, shared.RecordStatusInvoiced, h.record("ORD-3", shared.TransactionTypeShipment).Status)
	assert.Equal(t, 0, h.ledger.WriteCalls())

	kinds := map[repair.Kind]int{}
	for _, a := range report.Actions {
		kinds[a.Kind]++
	}
	assert.Equal(t, map[repair.Kind]int{repair.KindUnlinkedLines: 1, repair.KindTaxDrift: 1}, kinds)
	assert.Len(t, h.repairs.Messages(), 2)
}

func TestScenario_UnknownSKUIsBookedForReview(t *testing.T) {
	h := newHarness(t)
	h.addOrder("ORD-4", "18.00", "A")

	summary := h.ingest(reportFile(
		"A1PA6795UKMFR9\tORD-4\tSHIPMENT\tT1\t2024-03-04\tA\t1\tDE\tDE\t\tEUR\t10.00\t1.60",
		"A1PA6795UKMFR9\tORD-4\tSHIPMENT\tT2\t2024-03-04\tZZ-UNKNOWN\t1\tDE\tDE\t\tEUR\t8.00\t1.28",
	))

	assert.Equal(t, 1, summary.New)
	rec := h.record("ORD-4", shared.TransactionTypeShipment)
	require.NotNil(t, rec.Note)
	assert.Equal(t, vcsorder.NoteReview, *rec.Note)

	lines := h.ledger.InvoiceLines(*rec.LedgerInvoiceID)
	require.Len(t, lines, 2)
	var names []string
	for _, l := range lines {
		names = append(names, l.Name)
	}
	assert.Contains(t, names, booking.ReviewPrefix+"ZZ-UNKNOWN")
}

func TestScenario_PostFailureResumesSameDraft(t *testing.T) {
	h := newHarness(t)
	h.addOrder("ORD-1", "15.00", "A")
	h.ledger.Fail(ledgertest.OpPostInvoice, &ledger.TransientError{Op: "action_post", Err: errors.New("timeout")}, 1)

	summary := h.ingest(ord1Report)

	assert.Equal(t, 1, summary.Pending)
	rec := h.record("ORD-1", shared.TransactionTypeShipment)
	require.True(t, rec.AwaitingPost())
	draft := *rec.LedgerInvoiceID

	h.records.ExpireClaims()
	out, err := h.processor.ProcessKey(context.Background(), rec.Key())

	require.NoError(t, err)
	assert.Equal(t, service.CategoryNew, out.Category)
	rec = h.record("ORD-1", shared.TransactionTypeShipment)
	assert.Equal(t, shared.RecordStatusInvoiced, rec.Status)
	assert.Equal(t, draft, *rec.LedgerInvoiceID)
	assert.Equal(t, 1, h.ledger.Calls(ledgertest.OpCreateInvoice))
}

func TestScenario_DryRunCreatesRecordsOnly(t *testing.T) {
	h := newHarness(t)
	h.dryRun = true
	h.build()
	h.addOrder("ORD-1", "15.00", "A")
	h.ledger.AddPartner(ledger.Partner{Name: booking.GenericPartnerName("DE"), CountryCode: "DE"})

	summary := h.ingest(ord1Report)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 0, h.ledger.WriteCalls())
	assert.Empty(t, h.ledger.Invoices())
	rec := h.record("ORD-1", shared.TransactionTypeShipment)
	assert.Equal(t, shared.RecordStatusPending, rec.Status)
	assert.Empty(t, h.journal.Entries())
}

func TestScenario_MalformedRowsAreDeadLettered(t *testing.T) {
	h := newHarness(t)
	h.addOrder("ORD-1", "15.00", "A")

	summary := h.ingest(reportFile(
		"A1PA6795UKMFR9\tORD-1\tSHIPMENT\tT1\t2024-03-04\tA\t1\tDE\tDE\t\tEUR\t15.00\t2.39",
		"A1PA6795UKMFR9\tORD-2\tSHIPMENT\tT2\t2024-03-04\tA\t1\tDE\tDE\t\tEUR\tfifteen\t0",
	))

	assert.Equal(t, 1, summary.Malformed)
	assert.Equal(t, 1, summary.New)
	require.Len(t, h.dlq.Messages(), 1)
	assert.Contains(t, string(h.dlq.Messages()[0].Value), "fifteen")
}

func invoicedRecord(t *testing.T, orderID string, invoiceID int64) *vcsorder.Record {
	t.Helper()
	rec, err := vcsorder.NewRecord(&report.OrderAggregate{
		OrderID:         orderID,
		Type:            shared.TransactionTypeShipment,
		ShipFromCountry: "DE",
		ShipToCountry:   "DE",
		Currency:        "EUR",
		Lines:           []report.ItemLine{{SKU: "A", ProductID: 77, Quantity: 1, Amount: dec("12.00")}},
		TotalInclusive:  dec("12.00"),
	})
	require.NoError(t, err)
	require.NoError(t, rec.MarkInvoiced(invoiceID, "INV/1", ""))
	return rec
}
