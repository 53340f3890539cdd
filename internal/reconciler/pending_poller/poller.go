package pending_poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vcs-invoice-reconciler/internal/config"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
	"github.com/vcs-invoice-reconciler/internal/reconciler/service"
)

// RecordLister pages through records of one status in key order
type RecordLister interface {
	ListByStatus(ctx context.Context, status shared.RecordStatus, after vcsorder.Key, limit int) ([]*vcsorder.Record, error)
}

// Poller retries pending records left behind by interrupted or failed runs
type Poller struct {
	records      RecordLister
	processor    service.ProcessingService
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
	cursor       vcsorder.Key
}

func NewPoller(
	cfg *config.PollerConfig,
	records RecordLister,
	processor service.ProcessingService,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		records:      records,
		processor:    processor,
		logger:       logger,
		pollInterval: cfg.Interval,
		batchSize:    cfg.BatchSize,
	}
}

// Start begins polling until context is canceled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting pending record poller",
		"poll_interval", p.pollInterval.String(),
		"batch_size", p.batchSize,
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Pending record poller stopping due to context cancellation.")
			return
		case <-ticker.C:
			p.logger.Debug("Pending record poller tick")
			if _, err := p.processPending(ctx); err != nil {
				p.logger.Error("Error during batch processing of pending records", "error", err)
			}
		}
	}
}

// processPending works through one batch. The cursor advances across ticks so a
// batch of records stuck behind a live claim does not starve the rest; it wraps
// around once the end of the table is reached.
func (p *Poller) processPending(ctx context.Context) (int, error) {
	records, err := p.records.ListByStatus(ctx, shared.RecordStatusPending, p.cursor, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending records: %w", err)
	}
	if len(records) < p.batchSize {
		p.cursor = vcsorder.Key{}
	} else {
		p.cursor = records[len(records)-1].Key()
	}

	if len(records) == 0 {
		p.logger.Debug("No pending records found.")
		return 0, nil
	}
	p.logger.Info("Fetched pending records", "count", len(records))

	processed := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		logger := p.logger.With("orderId", rec.OrderID, "transactionType", rec.TransactionType)

		out, err := p.processor.ProcessKey(ctx, rec.Key())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return processed, err
			}
			logger.Error("Failed to process pending record", "attempts", rec.Attempts, "error", err)
			continue
		}
		processed++
		logger.Info("Processed pending record", "category", out.Category, "status", out.Status)
	}
	return processed, nil
}
