package ledger

import (
	"context"
	"time"
)

// Gateway is the typed view of the ledger used by the reconciliation stages.
// Every call goes through one shared rate limit and retry policy.
type Gateway interface {
	FindSalesOrders(ctx context.Context, name string, exact bool) ([]SalesOrder, error)
	GetOrderLines(ctx context.Context, orderID int64) ([]OrderLine, error)

	FindInvoicesByOrigin(ctx context.Context, origin string, moveType MoveType) ([]Invoice, error)
	GetInvoices(ctx context.Context, ids []int64) ([]Invoice, error)
	ListInvoices(ctx context.Context, from, to time.Time) ([]Invoice, error)
	ListInvoiceLines(ctx context.Context, invoiceIDs []int64) ([]InvoiceLine, error)
	CreateInvoice(ctx context.Context, draft InvoiceDraft) (int64, error)
	PostInvoice(ctx context.Context, id int64) error

	FindPartnerByVAT(ctx context.Context, vat string) (*Partner, error)
	FindPartnerByName(ctx context.Context, name string) (*Partner, error)
	CreatePartner(ctx context.Context, partner Partner) (int64, error)
	UpdatePartnerVAT(ctx context.Context, id int64, vat string) error

	ResolveTaxID(ctx context.Context, name string) (int64, error)
	ResolveJournalID(ctx context.Context, code string) (int64, error)
	ResolveFiscalPositionID(ctx context.Context, name string) (int64, error)
	ListCatalog(ctx context.Context) ([]CatalogProduct, error)
}
