package inventory

import "context"

// Ledger is append-only; no entry is ever updated or removed.
type Ledger interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

type Filter struct {
	ProductID string
	Limit     int
}
