package normalizer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
)

var (
	ErrEmptyReport    = errors.New("report is empty")
	ErrMissingColumns = errors.New("report header lacks required columns")
)

// MalformedRow is a report row dropped during normalization
type MalformedRow struct {
	Line   int    `json:"line"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// Result is the outcome of normalizing one report file
type Result struct {
	ReportID     string
	Rows         int
	Duplicates   int
	Transactions []report.Transaction
	Malformed    []MalformedRow
}

// Normalizer turns a raw report file into validated transactions
type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger.With("component", "normalizer")}
}

// ReportID derives the identity of a report from its content, so the same file
// always yields the same transaction keys
func ReportID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Normalize parses a tab or comma separated report. Rows lacking an order id or a
// known transaction type, or carrying unparseable numbers, are returned as malformed.
// Byte-identical rows are dropped as duplicates; distinct rows sharing a transaction
// key (one per charge component) are summed into one transaction.
func (n *Normalizer) Normalize(data []byte) (*Result, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyReport
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headerCells, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read report header: %w", err)
	}
	h := newHeader(headerCells)
	if missing := missingColumns(h); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	result := &Result{ReportID: ReportID(data)}
	seenRows := make(map[string]struct{})
	byKey := make(map[report.Key]int)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Rows++
			line := 0
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.Line
			}
			result.Malformed = append(result.Malformed, MalformedRow{Line: line, Reason: err.Error()})
			continue
		}
		if isBlank(record) {
			continue
		}
		result.Rows++
		line, _ := reader.FieldPos(0)

		raw := strings.Join(record, string(reader.Comma))
		if _, dup := seenRows[raw]; dup {
			result.Duplicates++
			continue
		}
		seenRows[raw] = struct{}{}

		tx, err := parseTransaction(h, record, result.ReportID)
		if err != nil {
			result.Malformed = append(result.Malformed, MalformedRow{Line: line, Raw: raw, Reason: err.Error()})
			continue
		}

		key := tx.Key()
		if idx, ok := byKey[key]; ok {
			merge(&result.Transactions[idx], tx)
			continue
		}
		byKey[key] = len(result.Transactions)
		result.Transactions = append(result.Transactions, tx)
	}

	n.logger.Info("Normalized report",
		"report_id", result.ReportID,
		"rows", result.Rows,
		"transactions", len(result.Transactions),
		"duplicates", result.Duplicates,
		"malformed", len(result.Malformed))

	return result, nil
}

// Aggregate groups transactions by order and transaction type with one line per raw SKU.
// Aggregates are returned in key order.
func Aggregate(txs []report.Transaction) []*report.OrderAggregate {
	type groupKey struct {
		orderID string
		txType  shared.TransactionType
	}

	groups := make(map[groupKey]*report.OrderAggregate)
	var order []groupKey

	for _, tx := range txs {
		k := groupKey{orderID: tx.OrderID, txType: tx.Type}
		agg, ok := groups[k]
		if !ok {
			agg = &report.OrderAggregate{
				OrderID:              tx.OrderID,
				Type:                 tx.Type,
				ReportID:             tx.ReportID,
				ShipFromCountry:      tx.ShipFromCountry,
				ShipToCountry:        tx.ShipToCountry,
				MarketplaceID:        tx.MarketplaceID,
				BuyerTaxRegistration: tx.BuyerTaxRegistration,
				Currency:             tx.Currency,
				TransactionDate:      tx.TransactionDate,
			}
			groups[k] = agg
			order = append(order, k)
		}
		if agg.BuyerTaxRegistration == "" {
			agg.BuyerTaxRegistration = tx.BuyerTaxRegistration
		}
		if !tx.TransactionDate.IsZero() && (agg.TransactionDate.IsZero() || tx.TransactionDate.Before(agg.TransactionDate)) {
			agg.TransactionDate = tx.TransactionDate
		}
		agg.Add(tx.SKU, tx)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].orderID != order[j].orderID {
			return order[i].orderID < order[j].orderID
		}
		return order[i].txType < order[j].txType
	})

	aggregates := make([]*report.OrderAggregate, 0, len(order))
	for _, k := range order {
		agg := groups[k]
		agg.SortLines()
		aggregates = append(aggregates, agg)
	}
	return aggregates
}

func parseTransaction(h header, record []string, reportID string) (report.Transaction, error) {
	orderID := h.get(record, colOrderID)
	if orderID == "" {
		return report.Transaction{}, errors.New("missing order id")
	}

	rawType := h.get(record, colType)
	if rawType == "" {
		return report.Transaction{}, errors.New("missing transaction type")
	}
	txType, err := shared.ParseTransactionType(rawType)
	if err != nil {
		return report.Transaction{}, fmt.Errorf("unsupported transaction type %q", rawType)
	}

	quantity := 0
	if q := h.get(record, colQuantity); q != "" {
		quantity, err = strconv.Atoi(q)
		if err != nil {
			return report.Transaction{}, fmt.Errorf("invalid quantity %q", q)
		}
	}

	amount, tax, err := sumComponents(h, record)
	if err != nil {
		return report.Transaction{}, err
	}
	// refunds are carried as negative amounts whatever sign the report used
	if txType == shared.TransactionTypeRefund && amount.IsPositive() {
		amount = amount.Neg()
		tax = tax.Neg()
	}

	var date time.Time
	if raw := h.get(record, colShipmentDate, colOrderDate); raw != "" {
		date, err = parseDate(raw)
		if err != nil {
			return report.Transaction{}, err
		}
	}

	return report.Transaction{
		ReportID:             reportID,
		TransactionID:        h.get(record, colTransactionID),
		OrderID:              orderID,
		Type:                 txType,
		SKU:                  h.get(record, colSKU),
		Quantity:             quantity,
		ShipFromCountry:      strings.ToUpper(h.get(record, colShipFrom)),
		ShipToCountry:        strings.ToUpper(h.get(record, colShipTo)),
		MarketplaceID:        h.get(record, colMarketplace),
		BuyerTaxRegistration: h.get(record, colBuyerVAT),
		AmountInclusiveTax:   amount,
		TaxAmount:            tax,
		Currency:             strings.ToUpper(h.get(record, colCurrency)),
		TransactionDate:      date,
	}, nil
}

func sumComponents(h header, record []string) (decimal.Decimal, decimal.Decimal, error) {
	amount := decimal.Zero
	tax := decimal.Zero

	for _, component := range priceComponents {
		inclusive, taxCols := amountColumns(component)
		for _, col := range inclusive {
			v, err := parseAmount(h.get(record, col))
			if err != nil {
				return decimal.Zero, decimal.Zero, fmt.Errorf("invalid %s: %w", col, err)
			}
			amount = amount.Add(v)
		}
		for _, col := range taxCols {
			v, err := parseAmount(h.get(record, col))
			if err != nil {
				return decimal.Zero, decimal.Zero, fmt.Errorf("invalid %s: %w", col, err)
			}
			tax = tax.Add(v)
		}
	}

	return amount, tax, nil
}

// parseAmount accepts dot or comma decimal separators; an empty cell is zero
func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	if !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	return decimal.NewFromString(raw)
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006 15:04:05 MST",
	"02-Jan-2006",
	"02.01.2006",
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

func merge(dst *report.Transaction, src report.Transaction) {
	dst.AmountInclusiveTax = dst.AmountInclusiveTax.Add(src.AmountInclusiveTax)
	dst.TaxAmount = dst.TaxAmount.Add(src.TaxAmount)
	if dst.Quantity == 0 {
		dst.Quantity = src.Quantity
	}
	if dst.BuyerTaxRegistration == "" {
		dst.BuyerTaxRegistration = src.BuyerTaxRegistration
	}
}

func missingColumns(h header) []string {
	var missing []string
	for _, col := range []string{colOrderID, colType, colSKU, colShipFrom, colShipTo} {
		if !h.has(col) {
			missing = append(missing, col)
		}
	}
	return missing
}

func detectDelimiter(data []byte) rune {
	firstLine := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		firstLine = data[:i]
	}

	best, bestCount := ',', bytes.Count(firstLine, []byte(","))
	for _, candidate := range []rune{'\t', ';'} {
		if c := bytes.Count(firstLine, []byte(string(candidate))); c > bestCount {
			best, bestCount = candidate, c
		}
	}
	return best
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
