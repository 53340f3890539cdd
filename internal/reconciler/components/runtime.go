package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vcs-invoice-reconciler/internal/config"
	"github.com/vcs-invoice-reconciler/internal/data/mongo"
	"github.com/vcs-invoice-reconciler/internal/data/postgres"
	"github.com/vcs-invoice-reconciler/internal/platform/messaging/producers"
	"github.com/vcs-invoice-reconciler/internal/platform/metrics"
	"github.com/vcs-invoice-reconciler/internal/platform/persistence"
)

// Runtime owns the connections a reconciler binary opens at startup
type Runtime struct {
	Postgres *persistence.PostgresDB
	MongoDB  *persistence.MongoDB
	DLQ      *producers.DLQProducer
	Repairs  *producers.JSONProducer
	Deps     Dependencies

	logger *slog.Logger
}

// RuntimeOptions selects the optional pieces of a Runtime
type RuntimeOptions struct {
	ServiceName string
	WithRepairs bool // open the repair topic producer, used by the sweeper
}

// OpenRuntime connects the Local Store, the audit journal, the DLQ producer and the
// ledger gateway. Everything opened so far is closed again when a step fails.
func OpenRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts RuntimeOptions) (rt *Runtime, err error) {
	rt = &Runtime{logger: logger}
	defer func() {
		if err != nil {
			rt.Close(context.Background())
			rt = nil
		}
	}()

	rt.Postgres, err = persistence.NewPostgresDB(ctx, logger, &cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	rt.MongoDB, err = persistence.NewMongoDB(ctx, logger, &cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
	}
	if err = rt.MongoDB.EnsureIndexes(ctx, mongo.AuditIndexes); err != nil {
		return nil, fmt.Errorf("failed to create audit indexes: %w", err)
	}

	rt.DLQ, err = producers.NewDLQProducer(logger, &cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DLQ producer: %w", err)
	}

	if opts.WithRepairs {
		rt.Repairs, err = producers.NewRepairProducer(logger, &cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize repair producer: %w", err)
		}
	}

	m := metrics.New(metrics.DefaultConfig(opts.ServiceName))
	gateway := CreateLedgerGateway(&cfg.Ledger, m, logger)

	rt.Deps = Dependencies{
		Records:  postgres.NewVcsOrderRepository(logger, rt.Postgres),
		TxRunner: rt.Postgres,
		Gateway:  gateway,
		Retry:    gateway.RetryPolicy(),
		Journal:  mongo.NewAuditRepository(logger, rt.MongoDB.Database()),
		Metrics:  m,
		Logger:   logger,
		Config:   cfg,
	}
	// typed nils would defeat the nil checks downstream
	if rt.DLQ != nil {
		rt.Deps.DLQ = rt.DLQ.WithRecorder(m)
	}
	if rt.Repairs != nil {
		rt.Deps.Repairs = rt.Repairs.WithRecorder(m)
	}

	return rt, nil
}

// Close releases everything OpenRuntime opened, in reverse order
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error

	if rt.Repairs != nil {
		if err := rt.Repairs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close repair producer: %w", err))
		}
	}
	if rt.DLQ != nil {
		if err := rt.DLQ.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close DLQ producer: %w", err))
		}
	}
	if rt.MongoDB != nil {
		if err := rt.MongoDB.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close MongoDB: %w", err))
		}
	}
	if rt.Postgres != nil {
		rt.Postgres.Close()
	}

	err := errors.Join(errs...)
	if err != nil {
		rt.logger.Error("Runtime closed with errors", "error", err)
	}
	return err
}
