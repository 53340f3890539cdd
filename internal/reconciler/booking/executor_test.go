package booking

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/tax"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/platform/resilience"
	"github.com/vcs-invoice-reconciler/internal/reconciler/ledgertest"
	"github.com/vcs-invoice-reconciler/internal/reconciler/taxrules"
)

var shipDate = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func fastRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        2 * time.Millisecond,
		BackoffFactor:   2,
		RetryableErrors: ledger.IsTransient,
	}
}

func transient() error {
	return &ledger.TransientError{Op: "call", Err: errors.New("connection reset")}
}

type fixture struct {
	ledger    *ledgertest.Ledger
	orderID   int64
	productA  int64
	saleLineA int64
}

func newFixture(total string) *fixture {
	l := ledgertest.New()
	f := &fixture{ledger: l}
	f.productA = l.AddProduct("A")
	f.orderID = l.AddOrder(
		ledger.SalesOrder{Name: "ORD-1", AmountTotal: decimal.RequireFromString(total), Currency: "EUR"},
		ledger.OrderLine{ProductID: f.productA, Name: "Widget"},
	)
	lines, _ := l.GetOrderLines(context.Background(), f.orderID)
	f.saleLineA = lines[0].ID
	l.ResetCalls()
	return f
}

func (f *fixture) order(t *testing.T) *ledger.SalesOrder {
	t.Helper()
	orders, err := f.ledger.FindSalesOrders(context.Background(), "ORD-1", true)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	f.ledger.ResetCalls()
	return &orders[0]
}

func newRecord(t *testing.T, txType shared.TransactionType, from, to, vat string, lines ...report.ItemLine) *vcsorder.Record {
	t.Helper()
	agg := &report.OrderAggregate{
		OrderID:              "ORD-1",
		Type:                 txType,
		ReportID:             "report-1",
		ShipFromCountry:      from,
		ShipToCountry:        to,
		MarketplaceID:        taxrules.MarketplaceDE,
		BuyerTaxRegistration: vat,
		Currency:             "EUR",
		TransactionDate:      shipDate,
	}
	for _, l := range lines {
		agg.AddLine(l)
	}
	rec, err := vcsorder.NewRecord(agg)
	require.NoError(t, err)
	return rec
}

func decide(t *testing.T, rec *vcsorder.Record) *tax.Decision {
	t.Helper()
	d, err := taxrules.NewEngine().DecideAggregate(rec.Aggregate)
	require.NoError(t, err)
	return &d
}

func TestBook_DomesticShipment(t *testing.T) {
	f := newFixture("15.00")
	order := f.order(t)
	rec := newRecord(t, shared.TransactionTypeShipment, "DE", "DE", "",
		report.ItemLine{SKU: "A", ProductID: f.productA, RawSKUs: []string{"A-FBM", "A-stickerless"}, Quantity: 2, Amount: decimal.RequireFromString("15.00")})

	out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, order, decide(t, rec))

	require.NoError(t, err)
	assert.Equal(t, StatusInvoiced, out.Status)
	assert.True(t, out.PartnerCreated)
	assert.False(t, out.Review)
	assert.Equal(t, 1, f.ledger.Calls(ledgertest.OpCreateInvoice))
	assert.Equal(t, 1, f.ledger.Calls(ledgertest.OpPostInvoice))

	invoices := f.ledger.Invoices()
	require.Len(t, invoices, 1)
	inv := invoices[0]
	assert.Equal(t, out.InvoiceID, inv.ID)
	assert.Equal(t, inv.Name, out.InvoiceRef)
	assert.Equal(t, ledger.InvoiceStatePosted, inv.State)
	assert.Equal(t, ledger.MoveTypeInvoice, inv.MoveType)
	assert.Equal(t, "ORD-1", inv.Origin)
	assert.Equal(t, "VCS/ORD-1/SHIPMENT", inv.Ref)
	assert.True(t, decimal.RequireFromString("15.00").Equal(inv.AmountTotal))
	assert.Equal(t, shipDate, inv.InvoiceDate)

	journalID, _ := f.ledger.ReferenceID("account.journal", "VDE")
	assert.Equal(t, journalID, inv.JournalID)

	lines := f.ledger.InvoiceLines(inv.ID)
	require.Len(t, lines, 1)
	assert.Equal(t, f.productA, lines[0].ProductID)
	assert.Equal(t, []int64{f.saleLineA}, lines[0].SaleLineIDs)
	taxID, _ := f.ledger.ReferenceID("account.tax", "DE*VAT 19%")
	assert.Equal(t, []int64{taxID}, lines[0].TaxIDs)

	partners := f.ledger.Partners()
	require.Len(t, partners, 1)
	assert.Equal(t, "Amazon | AMZ_B2C_DE", partners[0].Name)
	assert.Equal(t, partners[0].ID, inv.PartnerID)
}

func TestBook_ReusesGenericPartner(t *testing.T) {
	f := newFixture("15.00")
	existing := f.ledger.AddPartner(ledger.Partner{Name: GenericPartnerName("de"), CountryCode: "DE"})
	order := f.order(t)
	rec := newRecord(t, shared.TransactionTypeShipment, "DE", "DE", "",
		report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: 1, Amount: decimal.RequireFromString("15.00")})

	out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, order, decide(t, rec))

	require.NoError(t, err)
	assert.False(t, out.PartnerCreated)
	assert.Zero(t, f.ledger.Calls(ledgertest.OpCreatePartner))
	assert.Equal(t, existing, f.ledger.Invoices()[0].PartnerID)
}

func TestBook_BusinessPartner(t *testing.T) {
	line := report.ItemLine{SKU: "A", Quantity: 1, Amount: decimal.RequireFromString("15.00")}

	t.Run("found by normalized vat", func(t *testing.T) {
		f := newFixture("15.00")
		line.ProductID = f.productA
		id := f.ledger.AddPartner(ledger.Partner{Name: "Buyer GmbH", VAT: "fr 12 345678901", IsCompany: true})
		rec := newRecord(t, shared.TransactionTypeShipment, "DE", "FR", "FR12345678901", line)

		out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

		require.NoError(t, err)
		assert.Equal(t, StatusInvoiced, out.Status)
		assert.Equal(t, id, f.ledger.Invoices()[0].PartnerID)
		assert.Zero(t, f.ledger.Calls(ledgertest.OpCreatePartner))
	})

	t.Run("named partner gets its vat written", func(t *testing.T) {
		f := newFixture("15.00")
		line.ProductID = f.productA
		id := f.ledger.AddPartner(ledger.Partner{Name: BusinessPartnerName("FR12345678901"), IsCompany: true})
		rec := newRecord(t, shared.TransactionTypeShipment, "DE", "FR", "FR 123 456 789 01", line)

		_, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

		require.NoError(t, err)
		assert.Equal(t, 1, f.ledger.Calls(ledgertest.OpUpdatePartnerVAT))
		assert.Equal(t, "FR12345678901", f.ledger.Partners()[0].VAT)
		assert.Equal(t, id, f.ledger.Invoices()[0].PartnerID)
	})

	t.Run("created when absent", func(t *testing.T) {
		f := newFixture("15.00")
		line.ProductID = f.productA
		rec := newRecord(t, shared.TransactionTypeShipment, "DE", "FR", "FR12345678901", line)

		out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

		require.NoError(t, err)
		assert.True(t, out.PartnerCreated)
		partners := f.ledger.Partners()
		require.Len(t, partners, 1)
		assert.Equal(t, "Amazon | AMZ_B2B_FR12345678901", partners[0].Name)
		assert.Equal(t, "FR12345678901", partners[0].VAT)
		assert.True(t, partners[0].IsCompany)
	})
}

func TestBook_LostCreateReplyIsAdopted(t *testing.T) {
	f := newFixture("15.00")
	f.ledger.LoseReply(ledgertest.OpCreateInvoice, transient(), 1)
	rec := newRecord(t, shared.TransactionTypeShipment, "DE", "DE", "",
		report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: 1, Amount: decimal.RequireFromString("15.00")})

	out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

	require.NoError(t, err)
	assert.Equal(t, StatusInvoiced, out.Status)
	assert.True(t, out.Adopted)
	assert.Equal(t, 1, f.ledger.Calls(ledgertest.OpCreateInvoice))
	assert.Len(t, f.ledger.Invoices(), 1)
}

func TestBook_CreateFailuresAreClassified(t *testing.T) {
	t.Run("transient failures exhaust the retry policy", func(t *testing.T) {
		f := newFixture("15.00")
		f.ledger.Fail(ledgertest.OpCreateInvoice, transient(), 3)
		rec := newRecord(t, shared.TransactionTypeShipment, "DE", "DE", "",
			report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: 1, Amount: decimal.RequireFromString("15.00")})

		out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

		require.NoError(t, err)
		assert.Equal(t, StatusFailed, out.Status)
		assert.Equal(t, shared.ErrorReasonTransient, out.ErrorReason)
		assert.Equal(t, 3, f.ledger.Calls(ledgertest.OpCreateInvoice))
		assert.Empty(t, f.ledger.Invoices())
	})

	t.Run("validation errors are terminal", func(t *testing.T) {
		f := newFixture("15.00")
		f.ledger.Fail(ledgertest.OpCreateInvoice, &ledger.ValidationError{Op: "account.move.create", Message: "journal locked"}, 1)
		rec := newRecord(t, shared.TransactionTypeShipment, "DE", "DE", "",
			report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: 1, Amount: decimal.RequireFromString("15.00")})

		out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

		require.NoError(t, err)
		assert.Equal(t, StatusFailed, out.Status)
		assert.Equal(t, shared.ErrorReasonValidation, out.ErrorReason)
		assert.Contains(t, out.Message, "journal locked")
		assert.Equal(t, 1, f.ledger.Calls(ledgertest.OpCreateInvoice))
	})

	t.Run("missing tax configuration is terminal", func(t *testing.T) {
		f := newFixture("15.00")
		f.ledger.StrictReferences = true
		rec := newRecord(t, shared.TransactionTypeShipment, "DE", "DE", "",
			report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: 1, Amount: decimal.RequireFromString("15.00")})

		out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

		require.NoError(t, err)
		assert.Equal(t, StatusFailed, out.Status)
		assert.Equal(t, shared.ErrorReasonValidation, out.ErrorReason)
		assert.Zero(t, f.ledger.Calls(ledgertest.OpCreateInvoice))
	})
}

func TestBook_PostFailures(t *testing.T) {
	t.Run("transient post leaves the draft awaiting post", func(t *testing.T) {
		f := newFixture("15.00")
		f.ledger.Fail(ledgertest.OpPostInvoice, transient(), 1)
		rec := newRecord(t, shared.TransactionTypeShipment, "DE", "DE", "",
			report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: 1, Amount: decimal.RequireFromString("15.00")})

		out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

		require.NoError(t, err)
		assert.Equal(t, StatusAwaitingPost, out.Status)
		require.NotZero(t, out.InvoiceID)
		assert.Equal(t, ledger.InvoiceStateDraft, f.ledger.Invoices()[0].State)
	})

	t.Run("rejected post is terminal and keeps the invoice id", func(t *testing.T) {
		f := newFixture("15.00")
		f.ledger.Fail(ledgertest.OpPostInvoice, &ledger.ValidationError{Op: "account.move.action_post", Message: "missing account"}, 1)
		rec := newRecord(t, shared.TransactionTypeShipment, "DE", "DE", "",
			report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: 1, Amount: decimal.RequireFromString("15.00")})

		out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

		require.NoError(t, err)
		assert.Equal(t, StatusFailed, out.Status)
		assert.Equal(t, shared.ErrorReasonValidation, out.ErrorReason)
		assert.NotZero(t, out.InvoiceID)
	})
}

func TestBook_CreditNote(t *testing.T) {
	f := newFixture("15.00")
	rec := newRecord(t, shared.TransactionTypeRefund, "DE", "IT", "",
		report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: -1, Amount: decimal.RequireFromString("-15.00")})

	out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

	require.NoError(t, err)
	assert.Equal(t, StatusInvoiced, out.Status)
	require.NotNil(t, out.Draft)
	assert.Equal(t, ledger.MoveTypeCreditNote, out.Draft.MoveType)
	assert.Equal(t, "VCS/ORD-1/REFUND", out.Draft.Ref)
	require.Len(t, out.Draft.Lines, 1)
	assert.True(t, decimal.NewFromInt(1).Equal(out.Draft.Lines[0].Quantity))
	assert.True(t, decimal.RequireFromString("15").Equal(out.Draft.Lines[0].PriceUnit))

	inv := f.ledger.Invoices()[0]
	journalID, _ := f.ledger.ReferenceID("account.journal", "VOS")
	assert.Equal(t, journalID, inv.JournalID)
	assert.Equal(t, "Amazon | AMZ_B2C_IT", f.ledger.Partners()[0].Name)
}

func TestBook_UnresolvedSKUIsFlaggedForReview(t *testing.T) {
	f := newFixture("25.00")
	rec := newRecord(t, shared.TransactionTypeShipment, "DE", "DE", "",
		report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: 1, Amount: decimal.RequireFromString("15.00")},
		report.ItemLine{SKU: "mystery-1", RawSKUs: []string{"mystery-1"}, Quantity: 2, Amount: decimal.RequireFromString("10.00"), Unresolved: true})

	out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

	require.NoError(t, err)
	assert.Equal(t, StatusInvoiced, out.Status)
	assert.True(t, out.Review)

	lines := f.ledger.InvoiceLines(out.InvoiceID)
	require.Len(t, lines, 2)
	assert.Equal(t, "[REVIEW] mystery-1", lines[1].Name)
	assert.Zero(t, lines[1].ProductID)
	assert.Empty(t, lines[1].SaleLineIDs)
	assert.True(t, decimal.RequireFromString("5").Equal(out.Draft.Lines[1].PriceUnit))
	assert.True(t, decimal.RequireFromString("25.00").Equal(f.ledger.Invoices()[0].AmountTotal))
}

func TestBook_DryRunWritesNothing(t *testing.T) {
	f := newFixture("15.00")
	rec := newRecord(t, shared.TransactionTypeShipment, "DE", "FR", "FR12345678901",
		report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: 1, Amount: decimal.RequireFromString("15.00")})

	out, err := NewExecutor(f.ledger, fastRetry(), true, newTestLogger()).Book(context.Background(), rec, f.order(t), decide(t, rec))

	require.NoError(t, err)
	assert.Equal(t, StatusDryRun, out.Status)
	require.NotNil(t, out.Draft)
	assert.Zero(t, f.ledger.WriteCalls())
	assert.Empty(t, f.ledger.Invoices())
}

func TestBook_SurvivesCallerCancellation(t *testing.T) {
	f := newFixture("15.00")
	order := f.order(t)
	rec := newRecord(t, shared.TransactionTypeShipment, "DE", "DE", "",
		report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: 1, Amount: decimal.RequireFromString("15.00")})
	decision := decide(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Book(ctx, rec, order, decision)

	require.NoError(t, err)
	assert.Equal(t, StatusInvoiced, out.Status)
}

func TestResume(t *testing.T) {
	f := newFixture("15.00")
	id := f.ledger.AddInvoice(ledger.Invoice{
		Origin: "ORD-1", Ref: "VCS/ORD-1/SHIPMENT", MoveType: ledger.MoveTypeInvoice,
		State: ledger.InvoiceStateDraft, AmountTotal: decimal.RequireFromString("15.00"), InvoiceDate: shipDate,
	})
	invoice := f.ledger.Invoices()[0]
	rec := newRecord(t, shared.TransactionTypeShipment, "DE", "DE", "",
		report.ItemLine{SKU: "A", ProductID: f.productA, Quantity: 1, Amount: decimal.RequireFromString("15.00")})

	out, err := NewExecutor(f.ledger, fastRetry(), false, newTestLogger()).Resume(context.Background(), rec, &invoice)

	require.NoError(t, err)
	assert.Equal(t, StatusInvoiced, out.Status)
	assert.Equal(t, id, out.InvoiceID)
	assert.Zero(t, f.ledger.Calls(ledgertest.OpCreateInvoice))
	assert.Equal(t, ledger.InvoiceStatePosted, f.ledger.Invoices()[0].State)
}
