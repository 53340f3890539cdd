package ledgergw

import (
	"context"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
)

const (
	modelSaleOrder     = "sale.order"
	modelSaleOrderLine = "sale.order.line"
)

var (
	saleOrderFields     = []string{"id", "name", "partner_id", "amount_total", "currency_id", "date_order", "state"}
	saleOrderLineFields = []string{"id", "order_id", "product_id", "name", "product_uom_qty", "price_total"}
)

// FindSalesOrders looks up orders by name. A non-exact search is a case-insensitive
// substring search; callers filter the candidates themselves.
func (g *Gateway) FindSalesOrders(ctx context.Context, name string, exact bool) ([]ledger.SalesOrder, error) {
	operator := "="
	if !exact {
		operator = "ilike"
	}
	rows, err := g.searchRead(ctx, modelSaleOrder,
		ledger.Domain{{"name", operator, name}, {"state", "!=", "cancel"}},
		saleOrderFields, ledger.SearchOptions{Order: "id asc"})
	if err != nil {
		return nil, err
	}

	orders := make([]ledger.SalesOrder, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, ledger.SalesOrder{
			ID:          rowInt(row, "id"),
			Name:        rowString(row, "name"),
			PartnerID:   rowInt(row, "partner_id"),
			AmountTotal: rowDecimal(row, "amount_total"),
			Currency:    rowString(row, "currency_id"),
			DateOrder:   rowDate(row, "date_order"),
			State:       rowString(row, "state"),
		})
	}
	return orders, nil
}

func (g *Gateway) GetOrderLines(ctx context.Context, orderID int64) ([]ledger.OrderLine, error) {
	rows, err := g.searchRead(ctx, modelSaleOrderLine,
		ledger.Domain{{"order_id", "=", orderID}},
		saleOrderLineFields, ledger.SearchOptions{Order: "id asc"})
	if err != nil {
		return nil, err
	}

	lines := make([]ledger.OrderLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, ledger.OrderLine{
			ID:         rowInt(row, "id"),
			OrderID:    rowInt(row, "order_id"),
			ProductID:  rowInt(row, "product_id"),
			Name:       rowString(row, "name"),
			Quantity:   rowDecimal(row, "product_uom_qty"),
			PriceTotal: rowDecimal(row, "price_total"),
		})
	}
	return lines, nil
}
