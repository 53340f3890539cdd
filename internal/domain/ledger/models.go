package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vcs-invoice-reconciler/internal/domain/shared"
)

// MoveType distinguishes invoices from credit notes
type MoveType string

const (
	MoveTypeInvoice    MoveType = "out_invoice"
	MoveTypeCreditNote MoveType = "out_refund"
)

// MoveTypeFor returns the document kind booked for a transaction type
func MoveTypeFor(t shared.TransactionType) MoveType {
	if t == shared.TransactionTypeRefund {
		return MoveTypeCreditNote
	}
	return MoveTypeInvoice
}

// InvoiceState is the lifecycle state of a ledger invoice
type InvoiceState string

const (
	InvoiceStateDraft     InvoiceState = "draft"
	InvoiceStatePosted    InvoiceState = "posted"
	InvoiceStateCancelled InvoiceState = "cancel"
)

// SalesOrder is the ledger's record of a marketplace order
type SalesOrder struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	PartnerID   int64           `json:"partner_id"`
	AmountTotal decimal.Decimal `json:"amount_total"`
	Currency    string          `json:"currency"`
	DateOrder   time.Time       `json:"date_order"`
	State       string          `json:"state"`
}

// OrderLine is one product line of a sales order
type OrderLine struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	ProductID  int64           `json:"product_id"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	Quantity   decimal.Decimal `json:"quantity"`
	PriceTotal decimal.Decimal `json:"price_total"`
}

// Invoice is a ledger invoice or credit note
type Invoice struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Origin      string          `json:"origin"`
	Ref         string          `json:"ref"`
	MoveType    MoveType        `json:"move_type"`
	State       InvoiceState    `json:"state"`
	AmountTotal decimal.Decimal `json:"amount_total"`
	InvoiceDate time.Time       `json:"invoice_date"`
	JournalID   int64           `json:"journal_id"`
	PartnerID   int64           `json:"partner_id"`
}

// IsCancelled reports whether the invoice was cancelled in the ledger
func (i Invoice) IsCancelled() bool {
	return i.State == InvoiceStateCancelled
}

// InvoiceLine is a product line of a ledger invoice
type InvoiceLine struct {
	ID          int64   `json:"id"`
	MoveID      int64   `json:"move_id"`
	ProductID   int64   `json:"product_id"`
	Name        string  `json:"name"`
	TaxIDs      []int64 `json:"tax_ids"`
	SaleLineIDs []int64 `json:"sale_line_ids"`
}

// Partner is a ledger contact
type Partner struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	VAT         string `json:"vat"`
	CountryCode string `json:"country_code"`
	IsCompany   bool   `json:"is_company"`
}

// CatalogProduct maps a catalog SKU to its ledger product
type CatalogProduct struct {
	ID  int64  `json:"id"`
	SKU string `json:"sku"`
}

// InvoiceDraft is everything needed to create an invoice or credit note
type InvoiceDraft struct {
	MoveType         MoveType
	PartnerID        int64
	JournalID        int64
	FiscalPositionID int64
	InvoiceDate      time.Time
	Origin           string
	Ref              string
	Currency         string
	Lines            []InvoiceLineDraft
}

// Total returns the tax-inclusive sum of the draft lines
func (d InvoiceDraft) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// InvoiceLineDraft is one line of an InvoiceDraft. ProductID is zero for lines
// that need manual pricing review.
type InvoiceLineDraft struct {
	ProductID   int64
	Name        string
	Quantity    decimal.Decimal
	PriceUnit   decimal.Decimal
	TaxIDs      []int64
	SaleLineIDs []int64
}

// Subtotal returns quantity times unit price rounded to cents
func (l InvoiceLineDraft) Subtotal() decimal.Decimal {
	return l.Quantity.Mul(l.PriceUnit).Round(2)
}

// NormalizeVAT strips separators and upper-cases a VAT number so that the same
// registration written two ways compares equal
func NormalizeVAT(vat string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(vat) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
