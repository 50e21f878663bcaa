package memory

import (
	"context"

	domain "github.com/farmstand/storefront/internal/domain/inventory"
)

type Ledger struct{ s *Store }

func (l *Ledger) Append(ctx context.Context, e domain.Entry) error {
	if e.ProductID == "" {
		return domain.ErrInvalidEntry
	}
	return l.s.run(ctx, func(st *state) error {
		st.ledger = append(st.ledger, e)
		return nil
	})
}

// List returns newest entries first.
func (l *Ledger) List(ctx context.Context, filter domain.Filter) ([]domain.Entry, error) {
	var out []domain.Entry
	err := l.s.run(ctx, func(st *state) error {
		for i := len(st.ledger) - 1; i >= 0; i-- {
			e := st.ledger[i]
			if filter.ProductID != "" && e.ProductID != filter.ProductID {
				continue
			}
			out = append(out, e)
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}
