package ledgergw

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
)

const (
	ledgerDateLayout     = "2006-01-02"
	ledgerDateTimeLayout = "2006-01-02 15:04:05"
)

// The ledger encodes unset fields as false, many2one fields as [id, "display name"]
// and numbers either as JSON numbers or floats depending on the transport.

func rowInt(row ledger.Row, field string) int64 {
	return toInt(row[field])
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, _ := n.Float64()
			return int64(f)
		}
		return i
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case []any:
		// many2one
		if len(n) > 0 {
			return toInt(n[0])
		}
	}
	return 0
}

func rowInts(row ledger.Row, field string) []int64 {
	list, ok := row[field].([]any)
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(list))
	for _, v := range list {
		if id := toInt(v); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func rowString(row ledger.Row, field string) string {
	switch v := row[field].(type) {
	case string:
		return v
	case []any:
		// many2one display name
		if len(v) > 1 {
			if s, ok := v[1].(string); ok {
				return s
			}
		}
	}
	return ""
}

func rowBool(row ledger.Row, field string) bool {
	b, _ := row[field].(bool)
	return b
}

func rowDecimal(row ledger.Row, field string) decimal.Decimal {
	switch v := row[field].(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	case string:
		d, err := decimal.NewFromString(v)
		if err == nil {
			return d
		}
	case int64:
		return decimal.NewFromInt(v)
	}
	return decimal.Zero
}

func rowDate(row ledger.Row, field string) time.Time {
	s, ok := row[field].(string)
	if !ok || s == "" {
		return time.Time{}
	}
	for _, layout := range []string{ledgerDateTimeLayout, ledgerDateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func formatDate(t time.Time) string {
	return t.UTC().Format(ledgerDateLayout)
}

func idsArg(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func opName(model, method string) string {
	return model + "." + method
}
