package components

import (
	"log/slog"

	"github.com/vcs-invoice-reconciler/internal/config"
	"github.com/vcs-invoice-reconciler/internal/domain/audit"
	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/platform/messaging/producers"
	"github.com/vcs-invoice-reconciler/internal/platform/metrics"
	"github.com/vcs-invoice-reconciler/internal/platform/odoo"
	"github.com/vcs-invoice-reconciler/internal/platform/persistence"
	"github.com/vcs-invoice-reconciler/internal/platform/resilience"
	"github.com/vcs-invoice-reconciler/internal/reconciler/booking"
	"github.com/vcs-invoice-reconciler/internal/reconciler/ledgergw"
	"github.com/vcs-invoice-reconciler/internal/reconciler/matcher"
	"github.com/vcs-invoice-reconciler/internal/reconciler/normalizer"
	"github.com/vcs-invoice-reconciler/internal/reconciler/service"
	"github.com/vcs-invoice-reconciler/internal/reconciler/sweeper"
	"github.com/vcs-invoice-reconciler/internal/reconciler/taxrules"
)

// Dependencies are the shared resources every reconciliation service is built from.
// DLQ, Repairs and Metrics may be nil.
type Dependencies struct {
	Records  vcsorder.Repository
	TxRunner persistence.TxRunner
	Gateway  ledger.Gateway
	Retry    *resilience.RetryConfig
	Journal  audit.Repository
	DLQ      producers.DeadLetterPublisher
	Repairs  producers.MessagePublisher
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Config   *config.Config
}

// CreateLedgerGateway connects the typed gateway to the ERP. The returned gateway
// carries the one call policy every stage shares.
func CreateLedgerGateway(cfg *config.LedgerConfig, m *metrics.Metrics, logger *slog.Logger) *ledgergw.Gateway {
	client := odoo.NewClient(odoo.Config{
		URL:      cfg.URL,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.CallTimeout,
	}, logger)

	var recorder ledgergw.Recorder
	if m != nil {
		recorder = m
	}
	policy := ledgergw.NewPolicy(cfg, logger, recorder)
	return ledgergw.NewGateway(client, policy, logger)
}

// CreateProcessingService creates a new ProcessingService with all its dependencies.
func CreateProcessingService(deps Dependencies) service.ProcessingService {
	cfg := deps.Config
	logger := deps.Logger

	recordManager := NewRecordManager(deps.Records, deps.TxRunner, cfg.Reconcile.ClaimLease, logger)
	journal := NewAuditRecorder(deps.Journal, logger)
	recordMatcher := matcher.NewMatcher(deps.Gateway, taxrules.NewEngine(), cfg.Reconcile.AmountEpsilon, logger)
	booker := booking.NewExecutor(deps.Gateway, deps.Retry, cfg.Reconcile.DryRun, logger)

	var outcomes service.OutcomeMetrics
	if deps.Metrics != nil {
		outcomes = deps.Metrics
	}

	return service.NewProcessingService(
		recordManager,
		recordMatcher,
		booker,
		journal,
		outcomes,
		cfg.Reconcile.DryRun,
		logger.With("component", "processing"),
	)
}

// CreateIngestionService creates the report ingestion pipeline on top of processor.
// The returned func releases the worker pool.
func CreateIngestionService(deps Dependencies, processor service.ProcessingService) (service.IngestionService, func(), error) {
	cfg := deps.Config
	logger := deps.Logger

	preparer, err := service.NewWorkerPoolPreparer(
		NewCatalogLoader(deps.Gateway, logger),
		taxrules.NewEngine(),
		service.WorkerPoolConfig{
			Size: cfg.WorkerPool.Size,
		},
		logger.With("component", "worker_pool"),
	)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Created worker pool preparer", "pool_size", cfg.WorkerPool.Size)

	var outcomes service.OutcomeMetrics
	if deps.Metrics != nil {
		outcomes = deps.Metrics
	}

	ingestion := service.NewIngestionService(
		normalizer.NewNormalizer(logger),
		preparer,
		NewRecordManager(deps.Records, deps.TxRunner, cfg.Reconcile.ClaimLease, logger),
		processor,
		deps.DLQ,
		outcomes,
		cfg.Reconcile.DryRun,
		logger.With("component", "ingestion"),
	)
	return ingestion, preparer.Shutdown, nil
}

// CreateSweeper creates the reconciliation sweeper
func CreateSweeper(deps Dependencies) *sweeper.Sweeper {
	cfg := deps.Config

	var repairs sweeper.RepairMetrics
	if deps.Metrics != nil {
		repairs = deps.Metrics
	}

	return sweeper.NewSweeper(
		deps.Records,
		deps.TxRunner,
		deps.Gateway,
		taxrules.NewEngine(),
		deps.Journal,
		deps.Repairs,
		repairs,
		sweeper.Config{
			BatchSize:    cfg.Sweeper.BatchSize,
			LookbackDays: cfg.Reconcile.DuplicateLookbackDays,
			DryRun:       cfg.Reconcile.DryRun,
		},
		deps.Logger,
	)
}
