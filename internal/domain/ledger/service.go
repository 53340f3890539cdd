package ledger

import "context"

// Domain is a search filter made of [field, operator, value] triples
type Domain [][]any

// Values holds field values for create and write calls
type Values map[string]any

// Row is a record returned by a search
type Row map[string]any

// SearchOptions bounds a search call
type SearchOptions struct {
	Limit  int
	Offset int
	Order  string
}

// Service is the remote ledger API as exposed by the ERP. It is not idempotent:
// creating the same values twice yields two records.
type Service interface {
	SearchRead(ctx context.Context, model string, domain Domain, fields []string, opts SearchOptions) ([]Row, error)
	Create(ctx context.Context, model string, values Values) (int64, error)
	Write(ctx context.Context, model string, ids []int64, values Values) error
	Post(ctx context.Context, model string, ids []int64) error
}
