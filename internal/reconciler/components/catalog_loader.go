package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
	"github.com/vcs-invoice-reconciler/internal/reconciler/service"
	"github.com/vcs-invoice-reconciler/internal/reconciler/skuresolver"
)

// CatalogLoader loads the ledger product catalog on first use and keeps it for the
// lifetime of the loader. A failed load is retried on the next call.
type CatalogLoader struct {
	gateway ledger.Gateway
	logger  *slog.Logger

	mu       sync.Mutex
	resolver *skuresolver.Resolver
}

var _ service.CatalogSource = (*CatalogLoader)(nil)

func NewCatalogLoader(gateway ledger.Gateway, logger *slog.Logger) *CatalogLoader {
	return &CatalogLoader{gateway: gateway, logger: logger}
}

func (c *CatalogLoader) Resolver(ctx context.Context) (*skuresolver.Resolver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolver != nil {
		return c.resolver, nil
	}

	products, err := c.gateway.ListCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load product catalog: %w", err)
	}
	catalog := skuresolver.NewCatalog(products)
	c.logger.Info("Product catalog loaded", "products", catalog.Len())
	c.resolver = skuresolver.NewResolver(catalog)
	return c.resolver, nil
}
