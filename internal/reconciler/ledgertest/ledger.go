// Package ledgertest provides an in-memory ledger for exercising the
// reconciliation stages without a remote ERP.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
)

// Operation names used by the call counters
const (
	OpFindSalesOrders       = "FindSalesOrders"
	OpGetOrderLines         = "GetOrderLines"
	OpFindInvoicesByOrigin  = "FindInvoicesByOrigin"
	OpGetInvoices           = "GetInvoices"
	OpListInvoices          = "ListInvoices"
	OpListInvoiceLines      = "ListInvoiceLines"
	OpCreateInvoice         = "CreateInvoice"
	OpPostInvoice           = "PostInvoice"
	OpFindPartnerByVAT      = "FindPartnerByVAT"
	OpFindPartnerByName     = "FindPartnerByName"
	OpCreatePartner         = "CreatePartner"
	OpUpdatePartnerVAT      = "UpdatePartnerVAT"
	OpResolveTaxID          = "ResolveTaxID"
	OpResolveJournalID      = "ResolveJournalID"
	OpResolveFiscalPosition = "ResolveFiscalPositionID"
	OpListCatalog           = "ListCatalog"
)

var writeOps = map[string]bool{
	OpCreateInvoice:    true,
	OpPostInvoice:      true,
	OpCreatePartner:    true,
	OpUpdatePartnerVAT: true,
}

type fault struct {
	err       error
	remaining int
	// applied faults perform the operation before failing, like a lost reply
	applied bool
}

// Ledger is a concurrency-safe in-memory ledger.Gateway. Unknown tax, journal and
// fiscal position names are created on first lookup unless StrictReferences is set.
type Ledger struct {
	StrictReferences bool

	mu       sync.Mutex
	nextID   int64
	orders   map[int64]ledger.SalesOrder
	lines    map[int64][]ledger.OrderLine
	invoices map[int64]ledger.Invoice
	invLines map[int64][]ledger.InvoiceLine
	partners map[int64]ledger.Partner
	refs     map[string]int64
	catalog  []ledger.CatalogProduct
	calls    map[string]int
	faults   map[string][]*fault
}

var _ ledger.Gateway = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{
		nextID:   1000,
		orders:   make(map[int64]ledger.SalesOrder),
		lines:    make(map[int64][]ledger.OrderLine),
		invoices: make(map[int64]ledger.Invoice),
		invLines: make(map[int64][]ledger.InvoiceLine),
		partners: make(map[int64]ledger.Partner),
		refs:     make(map[string]int64),
		calls:    make(map[string]int),
		faults:   make(map[string][]*fault),
	}
}

// AddOrder stores a sales order with its lines and returns the order id
func (l *Ledger) AddOrder(order ledger.SalesOrder, lines ...ledger.OrderLine) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if order.ID == 0 {
		order.ID = l.id()
	}
	if order.State == "" {
		order.State = "sale"
	}
	l.orders[order.ID] = order
	for _, line := range lines {
		if line.ID == 0 {
			line.ID = l.id()
		}
		line.OrderID = order.ID
		l.lines[order.ID] = append(l.lines[order.ID], line)
	}
	return order.ID
}

// AddInvoice stores an existing invoice with its lines and returns the invoice id
func (l *Ledger) AddInvoice(inv ledger.Invoice, lines ...ledger.InvoiceLine) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if inv.ID == 0 {
		inv.ID = l.id()
	}
	l.invoices[inv.ID] = inv
	for _, line := range lines {
		if line.ID == 0 {
			line.ID = l.id()
		}
		line.MoveID = inv.ID
		l.invLines[inv.ID] = append(l.invLines[inv.ID], line)
	}
	return inv.ID
}

// AddPartner stores a partner and returns its id
func (l *Ledger) AddPartner(p ledger.Partner) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p.ID == 0 {
		p.ID = l.id()
	}
	l.partners[p.ID] = p
	return p.ID
}

// AddProduct adds a catalog product and returns its id
func (l *Ledger) AddProduct(sku string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.id()
	l.catalog = append(l.catalog, ledger.CatalogProduct{ID: id, SKU: sku})
	return id
}

// AddReference registers a tax, journal or fiscal position key and returns its id
func (l *Ledger) AddReference(kind, key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.id()
	l.refs[kind+"|"+key] = id
	return id
}

// DeleteInvoice removes an invoice as an operator would in the ERP
func (l *Ledger) DeleteInvoice(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.invoices, id)
	delete(l.invLines, id)
}

// SetInvoiceState overrides an invoice state, e.g. to simulate a manual cancellation
func (l *Ledger) SetInvoiceState(id int64, state ledger.InvoiceState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if inv, ok := l.invoices[id]; ok {
		inv.State = state
		l.invoices[id] = inv
	}
}

// Fail makes the next times calls of op return err without effect
func (l *Ledger) Fail(op string, err error, times int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = append(l.faults[op], &fault{err: err, remaining: times})
}

// LoseReply makes the next times calls of op take effect and then return err
func (l *Ledger) LoseReply(op string, err error, times int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = append(l.faults[op], &fault{err: err, remaining: times, applied: true})
}

// Calls returns how often op was invoked
func (l *Ledger) Calls(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// TotalCalls returns the number of calls across every operation
func (l *Ledger) TotalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.calls {
		total += n
	}
	return total
}

// WriteCalls returns the number of mutating calls
func (l *Ledger) WriteCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for op, n := range l.calls {
		if writeOps[op] {
			total += n
		}
	}
	return total
}

// ResetCalls clears every counter
func (l *Ledger) ResetCalls() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = make(map[string]int)
}

// Invoices returns a snapshot of every stored invoice ordered by id
func (l *Ledger) Invoices() []ledger.Invoice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sortedInvoices(func(ledger.Invoice) bool { return true })
}

// InvoiceLines returns a snapshot of the lines of one invoice
func (l *Ledger) InvoiceLines(id int64) []ledger.InvoiceLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.InvoiceLine(nil), l.invLines[id]...)
}

// Partners returns a snapshot of every stored partner ordered by id
func (l *Ledger) Partners() []ledger.Partner {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sortedPartners()
}

func (l *Ledger) FindSalesOrders(_ context.Context, name string, exact bool) ([]ledger.SalesOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.enter(OpFindSalesOrders); err != nil {
		return nil, err
	}

	var out []ledger.SalesOrder
	for _, o := range l.orders {
		if o.State == "cancel" {
			continue
		}
		if exact && o.Name == name || !exact && strings.Contains(strings.ToLower(o.Name), strings.ToLower(name)) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *Ledger) GetOrderLines(_ context.Context, orderID int64) ([]ledger.OrderLine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.enter(OpGetOrderLines); err != nil {
		return nil, err
	}
	return append([]ledger.OrderLine(nil), l.lines[orderID]...), nil
}

func (l *Ledger) FindInvoicesByOrigin(_ context.Context, origin string, moveType ledger.MoveType) ([]ledger.Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.enter(OpFindInvoicesByOrigin); err != nil {
		return nil, err
	}
	return l.sortedInvoices(func(inv ledger.Invoice) bool {
		return inv.Origin == origin && inv.MoveType == moveType
	}), nil
}

func (l *Ledger) GetInvoices(_ context.Context, ids []int64) ([]ledger.Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.enter(OpGetInvoices); err != nil {
		return nil, err
	}
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	return l.sortedInvoices(func(inv ledger.Invoice) bool { return wanted[inv.ID] }), nil
}

func (l *Ledger) ListInvoices(_ context.Context, from, to time.Time) ([]ledger.Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.enter(OpListInvoices); err != nil {
		return nil, err
	}
	fromDay := from.UTC().Truncate(24 * time.Hour)
	toDay := to.UTC().Truncate(24 * time.Hour)
	return l.sortedInvoices(func(inv ledger.Invoice) bool {
		day := inv.InvoiceDate.UTC().Truncate(24 * time.Hour)
		return !day.Before(fromDay) && !day.After(toDay)
	}), nil
}

func (l *Ledger) ListInvoiceLines(_ context.Context, invoiceIDs []int64) ([]ledger.InvoiceLine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.enter(OpListInvoiceLines); err != nil {
		return nil, err
	}
	var out []ledger.InvoiceLine
	for _, id := range invoiceIDs {
		out = append(out, l.invLines[id]...)
	}
	return out, nil
}

func (l *Ledger) CreateInvoice(_ context.Context, draft ledger.InvoiceDraft) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	apply, err := l.enter(OpCreateInvoice)
	if err != nil && !apply {
		return 0, err
	}
	if draft.PartnerID == 0 || draft.JournalID == 0 || len(draft.Lines) == 0 {
		return 0, &ledger.ValidationError{Op: "account.move.create", Message: "partner, journal and lines are required"}
	}

	id := l.id()
	l.invoices[id] = ledger.Invoice{
		ID:          id,
		Origin:      draft.Origin,
		Ref:         draft.Ref,
		MoveType:    draft.MoveType,
		State:       ledger.InvoiceStateDraft,
		AmountTotal: draft.Total(),
		InvoiceDate: draft.InvoiceDate,
		JournalID:   draft.JournalID,
		PartnerID:   draft.PartnerID,
	}
	for _, dl := range draft.Lines {
		l.invLines[id] = append(l.invLines[id], ledger.InvoiceLine{
			ID:          l.id(),
			MoveID:      id,
			ProductID:   dl.ProductID,
			Name:        dl.Name,
			TaxIDs:      append([]int64(nil), dl.TaxIDs...),
			SaleLineIDs: append([]int64(nil), dl.SaleLineIDs...),
		})
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (l *Ledger) PostInvoice(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	apply, err := l.enter(OpPostInvoice)
	if err != nil && !apply {
		return err
	}

	inv, ok := l.invoices[id]
	if !ok {
		return &ledger.ValidationError{Op: "account.move.action_post", Message: fmt.Sprintf("record %d does not exist", id)}
	}
	if inv.State != ledger.InvoiceStateDraft {
		return &ledger.ValidationError{Op: "account.move.action_post", Message: "only draft entries can be posted"}
	}
	inv.State = ledger.InvoiceStatePosted
	inv.Name = fmt.Sprintf("INV/%d", id)
	l.invoices[id] = inv
	return err
}

func (l *Ledger) FindPartnerByVAT(_ context.Context, vat string) (*ledger.Partner, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.enter(OpFindPartnerByVAT); err != nil {
		return nil, err
	}
	want := ledger.NormalizeVAT(vat)
	if want == "" {
		return nil, nil
	}
	for _, p := range l.sortedPartners() {
		if ledger.NormalizeVAT(p.VAT) == want {
			return &p, nil
		}
	}
	return nil, nil
}

func (l *Ledger) FindPartnerByName(_ context.Context, name string) (*ledger.Partner, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.enter(OpFindPartnerByName); err != nil {
		return nil, err
	}
	for _, p := range l.sortedPartners() {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, nil
}

func (l *Ledger) CreatePartner(_ context.Context, partner ledger.Partner) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	apply, err := l.enter(OpCreatePartner)
	if err != nil && !apply {
		return 0, err
	}
	partner.ID = l.id()
	l.partners[partner.ID] = partner
	if err != nil {
		return 0, err
	}
	return partner.ID, nil
}

func (l *Ledger) UpdatePartnerVAT(_ context.Context, id int64, vat string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	apply, err := l.enter(OpUpdatePartnerVAT)
	if err != nil && !apply {
		return err
	}
	p, ok := l.partners[id]
	if !ok {
		return &ledger.ValidationError{Op: "res.partner.write", Message: fmt.Sprintf("record %d does not exist", id)}
	}
	p.VAT = vat
	l.partners[id] = p
	return err
}

func (l *Ledger) ResolveTaxID(_ context.Context, name string) (int64, error) {
	return l.reference(OpResolveTaxID, "account.tax", name)
}

func (l *Ledger) ResolveJournalID(_ context.Context, code string) (int64, error) {
	return l.reference(OpResolveJournalID, "account.journal", code)
}

func (l *Ledger) ResolveFiscalPositionID(_ context.Context, name string) (int64, error) {
	return l.reference(OpResolveFiscalPosition, "account.fiscal.position", name)
}

func (l *Ledger) ListCatalog(_ context.Context) ([]ledger.CatalogProduct, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.enter(OpListCatalog); err != nil {
		return nil, err
	}
	return append([]ledger.CatalogProduct(nil), l.catalog...), nil
}

// ReferenceID returns the id registered for a tax, journal or fiscal position key
func (l *Ledger) ReferenceID(kind, key string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.refs[kind+"|"+key]
	return id, ok
}

func (l *Ledger) reference(op, model, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.enter(op); err != nil {
		return 0, err
	}
	refKey := model + "|" + key
	if id, ok := l.refs[refKey]; ok {
		return id, nil
	}
	if l.StrictReferences {
		return 0, ledger.ErrReferenceNotFound{Model: model, Key: key}
	}
	id := l.id()
	l.refs[refKey] = id
	return id, nil
}

// enter counts the call and pops a pending fault. Callers hold mu.
func (l *Ledger) enter(op string) (bool, error) {
	l.calls[op]++
	queue := l.faults[op]
	if len(queue) == 0 {
		return false, nil
	}
	f := queue[0]
	f.remaining--
	if f.remaining <= 0 {
		l.faults[op] = queue[1:]
	}
	return f.applied, f.err
}

func (l *Ledger) id() int64 {
	l.nextID++
	return l.nextID
}

func (l *Ledger) sortedInvoices(keep func(ledger.Invoice) bool) []ledger.Invoice {
	var out []ledger.Invoice
	for _, inv := range l.invoices {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) sortedPartners() []ledger.Partner {
	out := make([]ledger.Partner, 0, len(l.partners))
	for _, p := range l.partners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
