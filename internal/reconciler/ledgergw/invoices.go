package ledgergw

import (
	"context"
	"fmt"
	"time"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
)

const (
	modelMove     = "account.move"
	modelMoveLine = "account.move.line"

	// listPageSize bounds a single search_read when scanning a date range
	listPageSize = 200
)

var (
	moveFields     = []string{"id", "name", "invoice_origin", "ref", "move_type", "state", "amount_total", "invoice_date", "journal_id", "partner_id"}
	moveLineFields = []string{"id", "move_id", "product_id", "name", "tax_ids", "sale_line_ids"}
)

func (g *Gateway) FindInvoicesByOrigin(ctx context.Context, origin string, moveType ledger.MoveType) ([]ledger.Invoice, error) {
	rows, err := g.searchRead(ctx, modelMove,
		ledger.Domain{{"invoice_origin", "=", origin}, {"move_type", "=", string(moveType)}},
		moveFields, ledger.SearchOptions{Order: "id asc"})
	if err != nil {
		return nil, err
	}
	return toInvoices(rows), nil
}

func (g *Gateway) GetInvoices(ctx context.Context, ids []int64) ([]ledger.Invoice, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := g.searchRead(ctx, modelMove,
		ledger.Domain{{"id", "in", idsArg(ids)}},
		moveFields, ledger.SearchOptions{Order: "id asc"})
	if err != nil {
		return nil, err
	}
	return toInvoices(rows), nil
}

// ListInvoices returns every customer invoice and credit note dated within [from, to]
func (g *Gateway) ListInvoices(ctx context.Context, from, to time.Time) ([]ledger.Invoice, error) {
	domain := ledger.Domain{
		{"move_type", "in", []any{string(ledger.MoveTypeInvoice), string(ledger.MoveTypeCreditNote)}},
		{"invoice_date", ">=", formatDate(from)},
		{"invoice_date", "<=", formatDate(to)},
	}

	var invoices []ledger.Invoice
	for offset := 0; ; offset += listPageSize {
		rows, err := g.searchRead(ctx, modelMove, domain, moveFields,
			ledger.SearchOptions{Limit: listPageSize, Offset: offset, Order: "id asc"})
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, toInvoices(rows)...)
		if len(rows) < listPageSize {
			return invoices, nil
		}
	}
}

// ListInvoiceLines returns the product lines of the given invoices. Section, note
// and tax lines are excluded.
func (g *Gateway) ListInvoiceLines(ctx context.Context, invoiceIDs []int64) ([]ledger.InvoiceLine, error) {
	if len(invoiceIDs) == 0 {
		return nil, nil
	}
	rows, err := g.searchRead(ctx, modelMoveLine,
		ledger.Domain{{"move_id", "in", idsArg(invoiceIDs)}, {"display_type", "=", "product"}},
		moveLineFields, ledger.SearchOptions{Order: "id asc"})
	if err != nil {
		return nil, err
	}

	lines := make([]ledger.InvoiceLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, ledger.InvoiceLine{
			ID:          rowInt(row, "id"),
			MoveID:      rowInt(row, "move_id"),
			ProductID:   rowInt(row, "product_id"),
			Name:        rowString(row, "name"),
			TaxIDs:      rowInts(row, "tax_ids"),
			SaleLineIDs: rowInts(row, "sale_line_ids"),
		})
	}
	return lines, nil
}

// CreateInvoice makes a single create attempt. It is never retried here: a failed
// attempt may still have created the record, so the caller decides whether to
// search before trying again.
func (g *Gateway) CreateInvoice(ctx context.Context, draft ledger.InvoiceDraft) (int64, error) {
	values, err := g.invoiceValues(ctx, draft)
	if err != nil {
		return 0, err
	}

	var id int64
	err = g.call(ctx, opName(modelMove, "create"), func(ctx context.Context) error {
		var err error
		id, err = g.svc.Create(ctx, modelMove, values)
		return err
	})
	if err != nil {
		return 0, err
	}

	g.logger.Info("Invoice created", "invoice_id", id, "origin", draft.Origin, "move_type", draft.MoveType)
	return id, nil
}

// PostInvoice confirms a draft and re-reads it until the ledger reports it posted.
// A post that failed but took effect counts as success.
func (g *Gateway) PostInvoice(ctx context.Context, id int64) error {
	op := opName(modelMove, "action_post")
	return g.retried(ctx, op, func(ctx context.Context) error {
		postErr := g.call(ctx, op, func(ctx context.Context) error {
			return g.svc.Post(ctx, modelMove, []int64{id})
		})
		// re-read even after an error: a repeated post of a posted invoice is rejected
		var rows []ledger.Row
		err := g.call(ctx, opName(modelMove, "search_read"), func(ctx context.Context) error {
			var err error
			rows, err = g.svc.SearchRead(ctx, modelMove, ledger.Domain{{"id", "=", id}},
				[]string{"id", "state"}, ledger.SearchOptions{Limit: 1})
			return err
		})
		if err != nil {
			if postErr != nil {
				return postErr
			}
			return err
		}
		if len(rows) == 0 {
			return &ledger.ValidationError{Op: op, Message: fmt.Sprintf("invoice %d not found", id)}
		}

		switch ledger.InvoiceState(rowString(rows[0], "state")) {
		case ledger.InvoiceStatePosted:
			return nil
		case ledger.InvoiceStateCancelled:
			return &ledger.ValidationError{Op: op, Message: fmt.Sprintf("invoice %d is cancelled", id)}
		}
		if postErr != nil {
			return postErr
		}
		return &ledger.TransientError{Op: op, Err: fmt.Errorf("invoice %d still in draft after post", id)}
	})
}

func (g *Gateway) invoiceValues(ctx context.Context, draft ledger.InvoiceDraft) (ledger.Values, error) {
	values := ledger.Values{
		"move_type":      string(draft.MoveType),
		"partner_id":     draft.PartnerID,
		"journal_id":     draft.JournalID,
		"invoice_date":   formatDate(draft.InvoiceDate),
		"invoice_origin": draft.Origin,
		"ref":            draft.Ref,
	}
	if draft.FiscalPositionID != 0 {
		values["fiscal_position_id"] = draft.FiscalPositionID
	}
	if draft.Currency != "" {
		currencyID, err := g.resolveReference(ctx, modelCurrency, "name", draft.Currency)
		if err != nil {
			return nil, err
		}
		values["currency_id"] = currencyID
	}

	lines := make([]any, 0, len(draft.Lines))
	for _, l := range draft.Lines {
		line := map[string]any{
			"name":       l.Name,
			"quantity":   l.Quantity.InexactFloat64(),
			"price_unit": l.PriceUnit.InexactFloat64(),
			"tax_ids":    []any{[]any{6, 0, idsArg(l.TaxIDs)}},
		}
		if l.ProductID != 0 {
			line["product_id"] = l.ProductID
		}
		if len(l.SaleLineIDs) > 0 {
			line["sale_line_ids"] = []any{[]any{6, 0, idsArg(l.SaleLineIDs)}}
		}
		lines = append(lines, []any{0, 0, line})
	}
	values["invoice_line_ids"] = lines
	return values, nil
}

func toInvoices(rows []ledger.Row) []ledger.Invoice {
	invoices := make([]ledger.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, ledger.Invoice{
			ID:          rowInt(row, "id"),
			Name:        rowString(row, "name"),
			Origin:      rowString(row, "invoice_origin"),
			Ref:         rowString(row, "ref"),
			MoveType:    ledger.MoveType(rowString(row, "move_type")),
			State:       ledger.InvoiceState(rowString(row, "state")),
			AmountTotal: rowDecimal(row, "amount_total"),
			InvoiceDate: rowDate(row, "invoice_date"),
			JournalID:   rowInt(row, "journal_id"),
			PartnerID:   rowInt(row, "partner_id"),
		})
	}
	return invoices
}
