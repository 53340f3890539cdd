package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/reconciler/matcher"
	"github.com/vcs-invoice-reconciler/internal/reconciler/skuresolver"
)

// CatalogSource hands out a resolver over the ledger product catalog
type CatalogSource interface {
	Resolver(ctx context.Context) (*skuresolver.Resolver, error)
}

type WorkerPoolConfig struct {
	Size int
}

// WorkerPoolPreparer resolves SKUs and decides taxes on an ants pool. Both stages
// are pure, so aggregates are prepared fully in parallel.
type WorkerPoolPreparer struct {
	pool    *ants.Pool
	catalog CatalogSource
	decider matcher.Decider
	logger  *slog.Logger
}

func NewWorkerPoolPreparer(
	catalog CatalogSource,
	decider matcher.Decider,
	config WorkerPoolConfig,
	logger *slog.Logger,
) (*WorkerPoolPreparer, error) {
	pool, err := ants.NewPool(config.Size)
	if err != nil {
		return nil, err
	}

	return &WorkerPoolPreparer{
		pool:    pool,
		catalog: catalog,
		decider: decider,
		logger:  logger,
	}, nil
}

// Prepare returns one Prepared per aggregate, in input order. The catalog is only
// loaded when there is something to prepare.
func (p *WorkerPoolPreparer) Prepare(ctx context.Context, aggs []*report.OrderAggregate) ([]Prepared, error) {
	if len(aggs) == 0 {
		return nil, nil
	}
	resolver, err := p.catalog.Resolver(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Prepared, len(aggs))
	var wg sync.WaitGroup
	for i, agg := range aggs {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			out[i] = p.prepare(resolver, agg)
		}
		if err := p.pool.Submit(task); err != nil {
			p.logger.Warn("Worker pool rejected task, preparing inline", "orderId", agg.OrderID, "error", err)
			task()
		}
	}
	wg.Wait()
	return out, nil
}

func (p *WorkerPoolPreparer) prepare(resolver *skuresolver.Resolver, agg *report.OrderAggregate) Prepared {
	resolved := resolver.ResolveAggregate(agg)
	prepared := Prepared{Aggregate: resolved}

	decision, err := p.decider.DecideAggregate(resolved)
	if err != nil {
		// the matcher records the gap once the order is found
		p.logger.Debug("No tax decision", "orderId", agg.OrderID, "transactionType", agg.Type, "error", err)
		return prepared
	}
	prepared.Decision = &decision
	return prepared
}

// Shutdown gracefully shuts down the worker pool.
func (p *WorkerPoolPreparer) Shutdown() {
	p.logger.Info("Shutting down worker pool", "running_workers", p.pool.Running())
	p.pool.Release()
}

// Running returns the number of running workers in the pool.
func (p *WorkerPoolPreparer) Running() int {
	return p.pool.Running()
}

// Capacity returns the capacity of the worker pool.
func (p *WorkerPoolPreparer) Capacity() int {
	return p.pool.Cap()
}
