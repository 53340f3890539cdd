package ledgergw

import (
	"context"
	"strings"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
)

const (
	modelTax            = "account.tax"
	modelJournal        = "account.journal"
	modelFiscalPosition = "account.fiscal.position"
	modelCountry        = "res.country"
	modelCurrency       = "res.currency"
	modelProduct        = "product.product"

	catalogPageSize = 500
)

func (g *Gateway) ResolveTaxID(ctx context.Context, name string) (int64, error) {
	return g.resolveReference(ctx, modelTax, "name", name)
}

func (g *Gateway) ResolveJournalID(ctx context.Context, code string) (int64, error) {
	return g.resolveReference(ctx, modelJournal, "code", code)
}

func (g *Gateway) ResolveFiscalPositionID(ctx context.Context, name string) (int64, error) {
	return g.resolveReference(ctx, modelFiscalPosition, "name", name)
}

// resolveReference maps a configuration record key to its id. Hits are cached for
// the life of the gateway; misses are not.
func (g *Gateway) resolveReference(ctx context.Context, model, field, key string) (int64, error) {
	cacheKey := model + "|" + key

	g.refMu.RLock()
	id, ok := g.refs[cacheKey]
	g.refMu.RUnlock()
	if ok {
		return id, nil
	}

	domain := ledger.Domain{{field, "=", key}}
	if model == modelTax {
		domain = append(domain, []any{"type_tax_use", "=", "sale"})
	}
	rows, err := g.searchRead(ctx, model, domain, []string{"id"}, ledger.SearchOptions{Limit: 1, Order: "id asc"})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, ledger.ErrReferenceNotFound{Model: model, Key: key}
	}

	id = rowInt(rows[0], "id")
	g.refMu.Lock()
	g.refs[cacheKey] = id
	g.refMu.Unlock()
	return id, nil
}

// ListCatalog returns every product carrying an internal reference
func (g *Gateway) ListCatalog(ctx context.Context) ([]ledger.CatalogProduct, error) {
	domain := ledger.Domain{{"default_code", "!=", false}}

	var products []ledger.CatalogProduct
	for offset := 0; ; offset += catalogPageSize {
		rows, err := g.searchRead(ctx, modelProduct, domain, []string{"id", "default_code"},
			ledger.SearchOptions{Limit: catalogPageSize, Offset: offset, Order: "id asc"})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			sku := strings.TrimSpace(rowString(row, "default_code"))
			if sku == "" {
				continue
			}
			products = append(products, ledger.CatalogProduct{ID: rowInt(row, "id"), SKU: sku})
		}
		if len(rows) < catalogPageSize {
			return products, nil
		}
	}
}
