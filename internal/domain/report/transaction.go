package report

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vcs-invoice-reconciler/internal/domain/shared"
)

// Transaction is one validated line of a marketplace tax report
type Transaction struct {
	ReportID             string                 `json:"report_id"`
	TransactionID        string                 `json:"transaction_id,omitempty"`
	OrderID              string                 `json:"order_id"`
	Type                 shared.TransactionType `json:"transaction_type"`
	SKU                  string                 `json:"sku"`
	Quantity             int                    `json:"quantity"`
	ShipFromCountry      string                 `json:"ship_from_country"`
	ShipToCountry        string                 `json:"ship_to_country"`
	MarketplaceID        string                 `json:"marketplace_id"`
	BuyerTaxRegistration string                 `json:"buyer_tax_registration,omitempty"`
	AmountInclusiveTax   decimal.Decimal        `json:"amount_inclusive_tax"`
	TaxAmount            decimal.Decimal        `json:"tax_amount"`
	Currency             string                 `json:"currency"`
	TransactionDate      time.Time              `json:"transaction_date"`
}

// Key identifies a transaction across reprocessing of the same report
type Key struct {
	OrderID  string
	Type     shared.TransactionType
	SKU      string
	ReportID string
}

// Key returns the deduplication key of the transaction
func (t Transaction) Key() Key {
	return Key{OrderID: t.OrderID, Type: t.Type, SKU: t.SKU, ReportID: t.ReportID}
}

// HasBuyerVAT reports whether the buyer supplied a tax registration
func (t Transaction) HasBuyerVAT() bool {
	return strings.TrimSpace(t.BuyerTaxRegistration) != ""
}
