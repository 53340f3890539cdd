package normalizer

import "strings"

// Column names of the marketplace VAT calculation report, lower-cased
const (
	colOrderID       = "order id"
	colTransactionID = "transaction id"
	colType          = "transaction type"
	colSKU           = "sku"
	colQuantity      = "quantity"
	colShipFrom      = "ship from country"
	colShipTo        = "ship to country"
	colMarketplace   = "marketplace id"
	colBuyerVAT      = "buyer tax registration"
	colCurrency      = "currency"
	colShipmentDate  = "shipment date"
	colOrderDate     = "order date"
)

// priceComponents are the charge components each report row may carry
var priceComponents = []string{"our_price", "shipping", "giftwrap"}

// amountColumns returns the inclusive amount and tax columns of one charge component.
// Promotions are reported as separate, already signed, columns.
func amountColumns(component string) (inclusive, tax []string) {
	inclusive = []string{
		component + " tax inclusive selling price",
		component + " tax inclusive promo amount",
	}
	tax = []string{
		component + " tax amount",
		component + " tax amount promo",
	}
	return inclusive, tax
}

// header maps lower-cased column names to their index
type header map[string]int

func newHeader(cells []string) header {
	h := make(header, len(cells))
	for i, cell := range cells {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")))
		if _, exists := h[name]; !exists {
			h[name] = i
		}
	}
	return h
}

func (h header) has(name string) bool {
	_, ok := h[name]
	return ok
}

// get returns the trimmed cell of the first present column, or ""
func (h header) get(record []string, names ...string) string {
	for _, name := range names {
		idx, ok := h[name]
		if !ok || idx >= len(record) {
			continue
		}
		if v := strings.TrimSpace(record[idx]); v != "" {
			return v
		}
	}
	return ""
}
