package report

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vcs-invoice-reconciler/internal/domain/shared"
)

// ItemLine is the net amount of one SKU within an order aggregate.
// Amounts are signed: refunds carry negative values.
type ItemLine struct {
	SKU        string          `json:"sku"`
	ProductID  int64           `json:"product_id,omitempty"`
	RawSKUs    []string        `json:"raw_skus"`
	Quantity   int             `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	Unresolved bool            `json:"unresolved,omitempty"`
}

// OrderAggregate holds every transaction of one order and transaction type,
// summed per SKU. It also keeps the inputs needed to recompute a tax decision.
type OrderAggregate struct {
	OrderID              string                 `json:"order_id"`
	Type                 shared.TransactionType `json:"transaction_type"`
	ReportID             string                 `json:"report_id"`
	ShipFromCountry      string                 `json:"ship_from_country"`
	ShipToCountry        string                 `json:"ship_to_country"`
	MarketplaceID        string                 `json:"marketplace_id"`
	BuyerTaxRegistration string                 `json:"buyer_tax_registration,omitempty"`
	Currency             string                 `json:"currency"`
	TransactionDate      time.Time              `json:"transaction_date"`
	Lines                []ItemLine             `json:"item_lines"`
	TotalInclusive       decimal.Decimal        `json:"total_inclusive"`
	TotalTax             decimal.Decimal        `json:"total_tax"`
}

// HasBuyerVAT reports whether the buyer supplied a tax registration
func (a *OrderAggregate) HasBuyerVAT() bool {
	return strings.TrimSpace(a.BuyerTaxRegistration) != ""
}

// Add folds a transaction into the aggregate under the given SKU
func (a *OrderAggregate) Add(sku string, tx Transaction) {
	a.AddLine(ItemLine{
		SKU:       sku,
		RawSKUs:   []string{tx.SKU},
		Quantity:  tx.Quantity,
		Amount:    tx.AmountInclusiveTax,
		TaxAmount: tx.TaxAmount,
	})
}

// AddLine merges a line into the aggregate, summing amounts of lines sharing a SKU
func (a *OrderAggregate) AddLine(line ItemLine) {
	for i := range a.Lines {
		if a.Lines[i].SKU != line.SKU {
			continue
		}
		a.Lines[i].Amount = a.Lines[i].Amount.Add(line.Amount)
		a.Lines[i].TaxAmount = a.Lines[i].TaxAmount.Add(line.TaxAmount)
		a.Lines[i].Quantity += line.Quantity
		a.Lines[i].Unresolved = a.Lines[i].Unresolved || line.Unresolved
		if a.Lines[i].ProductID == 0 {
			a.Lines[i].ProductID = line.ProductID
		}
		for _, raw := range line.RawSKUs {
			a.Lines[i].RawSKUs = appendUnique(a.Lines[i].RawSKUs, raw)
		}
		a.recompute()
		return
	}

	line.RawSKUs = append([]string(nil), line.RawSKUs...)
	a.Lines = append(a.Lines, line)
	a.recompute()
}

// WithoutLines returns a copy of the aggregate header with no lines
func (a *OrderAggregate) WithoutLines() *OrderAggregate {
	clone := *a
	clone.Lines = nil
	clone.TotalInclusive = decimal.Zero
	clone.TotalTax = decimal.Zero
	return &clone
}

// UnresolvedLines returns the lines whose SKU is not in the catalog
func (a *OrderAggregate) UnresolvedLines() []ItemLine {
	var lines []ItemLine
	for _, l := range a.Lines {
		if l.Unresolved {
			lines = append(lines, l)
		}
	}
	return lines
}

// SortLines orders lines by SKU so repeated runs produce identical snapshots
func (a *OrderAggregate) SortLines() {
	sort.SliceStable(a.Lines, func(i, j int) bool { return a.Lines[i].SKU < a.Lines[j].SKU })
}

func (a *OrderAggregate) recompute() {
	total := decimal.Zero
	tax := decimal.Zero
	for _, l := range a.Lines {
		total = total.Add(l.Amount)
		tax = tax.Add(l.TaxAmount)
	}
	a.TotalInclusive = total
	a.TotalTax = tax
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
