package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/tax"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/reconciler/normalizer"
	"github.com/vcs-invoice-reconciler/internal/reconciler/storetest"
)

const reportHeader = "Marketplace ID\tOrder ID\tTransaction Type\tTransaction ID\tShipment Date\tSKU\tQuantity\t" +
	"Ship From Country\tShip To Country\tBuyer Tax Registration\tCurrency\t" +
	"OUR_PRICE Tax Inclusive Selling Price\tOUR_PRICE Tax Amount"

func reportFile(rows ...string) []byte {
	return []byte(reportHeader + "\n" + strings.Join(rows, "\n") + "\n")
}

type MockPreparer struct {
	mock.Mock
}

func (m *MockPreparer) Prepare(ctx context.Context, aggs []*report.OrderAggregate) ([]Prepared, error) {
	args := m.Called(ctx, aggs)
	if fn, ok := args.Get(0).(func([]*report.OrderAggregate) []Prepared); ok {
		return fn(aggs), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Prepared), args.Error(1)
}

type MockProcessingService struct {
	mock.Mock
}

func (m *MockProcessingService) ProcessRecord(ctx context.Context, rec *vcsorder.Record, decision *tax.Decision) (*RecordOutcome, error) {
	args := m.Called(ctx, rec, decision)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RecordOutcome), args.Error(1)
}

func (m *MockProcessingService) ProcessKey(ctx context.Context, key vcsorder.Key) (*RecordOutcome, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RecordOutcome), args.Error(1)
}

func (m *MockProcessingService) Requeue(ctx context.Context, request *shared.RequeueRequest) (*RecordOutcome, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RecordOutcome), args.Error(1)
}

// passThrough prepares every aggregate unchanged and without a decision
func passThrough(aggs []*report.OrderAggregate) []Prepared {
	out := make([]Prepared, len(aggs))
	for i, agg := range aggs {
		out[i] = Prepared{Aggregate: agg}
	}
	return out
}

type ingestionFixture struct {
	svc       IngestionService
	records   *MockRecordManager
	preparer  *MockPreparer
	processor *MockProcessingService
	dlq       *storetest.Publisher
	metrics   *fakeMetrics
}

func newIngestion() *ingestionFixture {
	f := &ingestionFixture{
		records:   new(MockRecordManager),
		preparer:  new(MockPreparer),
		processor: new(MockProcessingService),
		dlq:       &storetest.Publisher{},
		metrics:   &fakeMetrics{},
	}
	f.svc = NewIngestionService(
		normalizer.NewNormalizer(newTestLogger()),
		f.preparer,
		f.records,
		f.processor,
		f.dlq,
		f.metrics,
		false,
		newTestLogger(),
	)
	return f
}

func TestIngestReport_CountsEveryCategory(t *testing.T) {
	f := newIngestion()
	data := reportFile(
		"A1PA6795UKMFR9\tORD-1\tSHIPMENT\tT1\t2024-03-04\tA-FBM\t1\tDE\tDE\t\tEUR\t10.00\t1.60",
		"A1PA6795UKMFR9\tORD-2\tSHIPMENT\tT2\t2024-03-04\tB\t1\tDE\tDE\t\tEUR\t20.00\t3.19",
		"A1PA6795UKMFR9\tORD-3\tSHIPMENT\tT3\t2024-03-04\tC\t1\tDE\tDE\t\tEUR\tnot-a-number\t0",
	)

	invoiced := pendingRecord()
	invoiced.OrderID = "ORD-2"
	require.NoError(t, invoiced.MarkInvoiced(8, "INV/8", ""))

	f.records.On("Get", mock.Anything, vcsorder.Key{OrderID: "ORD-1", TransactionType: shared.TransactionTypeShipment}).
		Return(nil, vcsorder.ErrRecordNotFound{})
	f.records.On("Get", mock.Anything, vcsorder.Key{OrderID: "ORD-2", TransactionType: shared.TransactionTypeShipment}).
		Return(invoiced, nil)
	f.preparer.On("Prepare", mock.Anything, mock.MatchedBy(func(aggs []*report.OrderAggregate) bool {
		return len(aggs) == 1 && aggs[0].OrderID == "ORD-1"
	})).Return(passThrough, nil)

	fresh := pendingRecord()
	fresh.OrderID = "ORD-1"
	f.records.On("Register", mock.Anything, mock.Anything).Return(fresh, true, nil)
	f.processor.On("ProcessRecord", mock.Anything, fresh, (*tax.Decision)(nil)).
		Return(&RecordOutcome{Key: fresh.Key(), Category: CategoryNew}, nil)

	summary, err := f.svc.IngestReport(context.Background(), "march.tsv", data)

	require.NoError(t, err)
	assert.Equal(t, normalizer.ReportID(data), summary.ReportID)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 2, summary.Orders)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.AlreadyInvoiced)
	assert.Equal(t, 1, summary.Malformed)
	assert.Equal(t, 0, summary.Pending)

	assert.Equal(t, 1, f.metrics.malformed)
	messages := f.dlq.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, summary.ReportID+":4", messages[0].Key)
	assert.Contains(t, string(messages[0].Value), "ORD-3")
}

func TestIngestReport_ReconciledRecordsAreNotProcessed(t *testing.T) {
	f := newIngestion()
	data := reportFile("A1PA6795UKMFR9\tORD-1\tSHIPMENT\tT1\t2024-03-04\tA\t1\tDE\tDE\t\tEUR\t10.00\t1.60")

	skipped := pendingRecord()
	skipped.OrderID = "ORD-1"
	require.NoError(t, skipped.MarkSkipped(shared.SkipReasonNoMatchingOrder, ""))
	f.records.On("Get", mock.Anything, mock.Anything).Return(skipped, nil)
	f.preparer.On("Prepare", mock.Anything, mock.Anything).Return(nil, nil)

	summary, err := f.svc.IngestReport(context.Background(), "march.tsv", data)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	f.records.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
	f.processor.AssertNotCalled(t, "ProcessRecord", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestReport_ProcessingFailureDoesNotAbortBatch(t *testing.T) {
	f := newIngestion()
	data := reportFile(
		"A1PA6795UKMFR9\tORD-1\tSHIPMENT\tT1\t2024-03-04\tA\t1\tDE\tDE\t\tEUR\t10.00\t1.60",
		"A1PA6795UKMFR9\tORD-2\tSHIPMENT\tT2\t2024-03-04\tB\t1\tDE\tDE\t\tEUR\t20.00\t3.19",
	)

	first := pendingRecord()
	first.OrderID = "ORD-1"
	second := pendingRecord()
	second.OrderID = "ORD-2"

	f.records.On("Get", mock.Anything, mock.Anything).Return(nil, vcsorder.ErrRecordNotFound{})
	f.preparer.On("Prepare", mock.Anything, mock.Anything).Return(passThrough, nil)
	f.records.On("Register", mock.Anything, mock.MatchedBy(func(a *report.OrderAggregate) bool { return a.OrderID == "ORD-1" })).Return(first, true, nil)
	f.records.On("Register", mock.Anything, mock.MatchedBy(func(a *report.OrderAggregate) bool { return a.OrderID == "ORD-2" })).Return(second, true, nil)
	f.processor.On("ProcessRecord", mock.Anything, first, mock.Anything).Panic("unexpected nil order")
	f.processor.On("ProcessRecord", mock.Anything, second, mock.Anything).
		Return(&RecordOutcome{Key: second.Key(), Category: CategoryError}, nil)

	summary, err := f.svc.IngestReport(context.Background(), "march.tsv", data)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pending)
	assert.Equal(t, 1, summary.Error)
}

func TestIngestReport_CancelledRunLeavesRestPending(t *testing.T) {
	f := newIngestion()
	data := reportFile(
		"A1PA6795UKMFR9\tORD-1\tSHIPMENT\tT1\t2024-03-04\tA\t1\tDE\tDE\t\tEUR\t10.00\t1.60",
		"A1PA6795UKMFR9\tORD-2\tSHIPMENT\tT2\t2024-03-04\tB\t1\tDE\tDE\t\tEUR\t20.00\t3.19",
		"A1PA6795UKMFR9\tORD-3\tSHIPMENT\tT3\t2024-03-04\tC\t1\tDE\tDE\t\tEUR\t30.00\t4.79",
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.records.On("Get", mock.Anything, mock.Anything).Return(nil, vcsorder.ErrRecordNotFound{})
	f.preparer.On("Prepare", mock.Anything, mock.Anything).Return(passThrough, nil)
	f.records.On("Register", mock.Anything, mock.Anything).Return(func(agg *report.OrderAggregate) *vcsorder.Record {
		rec, _ := vcsorder.NewRecord(agg)
		return rec
	}, true, nil)
	f.processor.On("ProcessRecord", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(&RecordOutcome{Category: CategoryNew}, nil).Once()

	summary, err := f.svc.IngestReport(ctx, "march.tsv", data)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 2, summary.Pending)
	f.processor.AssertNumberOfCalls(t, "ProcessRecord", 1)
}

func TestIngestReport_UnreadableReportFails(t *testing.T) {
	f := newIngestion()

	summary, err := f.svc.IngestReport(context.Background(), "empty.tsv", []byte("Order ID\tSKU\nORD-1\tA\n"))

	require.Error(t, err)
	assert.ErrorIs(t, err, normalizer.ErrMissingColumns)
	assert.Equal(t, 0, summary.New)
	f.preparer.AssertNotCalled(t, "Prepare", mock.Anything, mock.Anything)
}

func TestIngestReport_StoreFailureAborts(t *testing.T) {
	f := newIngestion()
	data := reportFile("A1PA6795UKMFR9\tORD-1\tSHIPMENT\tT1\t2024-03-04\tA\t1\tDE\tDE\t\tEUR\t10.00\t1.60")
	f.records.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := f.svc.IngestReport(context.Background(), "march.tsv", data)

	assert.Error(t, err)
	f.preparer.AssertNotCalled(t, "Prepare", mock.Anything, mock.Anything)
}
