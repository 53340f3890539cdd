package skuresolver

import (
	"strings"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
)

// Catalog is a case-insensitive index of catalog SKUs
type Catalog struct {
	bySKU map[string]ledger.CatalogProduct
}

func NewCatalog(products []ledger.CatalogProduct) *Catalog {
	c := &Catalog{bySKU: make(map[string]ledger.CatalogProduct, len(products))}
	for _, p := range products {
		sku := strings.TrimSpace(p.SKU)
		if sku == "" {
			continue
		}
		c.bySKU[strings.ToUpper(sku)] = p
	}
	return c
}

// Lookup returns the catalog product registered under sku
func (c *Catalog) Lookup(sku string) (ledger.CatalogProduct, bool) {
	p, ok := c.bySKU[strings.ToUpper(strings.TrimSpace(sku))]
	return p, ok
}

// Len returns the number of indexed SKUs
func (c *Catalog) Len() int {
	return len(c.bySKU)
}
