package memory

import (
	"context"
	"fmt"
	"sort"

	domain "github.com/farmstand/storefront/internal/domain/order"
)

type OrderRepository struct{ s *Store }

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	return r.s.run(ctx, func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return domain.ErrConflict
		}
		if _, exists := st.numbers[order.OrderNumber]; exists {
			return domain.ErrConflict
		}
		st.orders[order.ID] = order.Clone()
		st.numbers[order.OrderNumber] = order.ID
		if order.PaymentSessionID != "" {
			st.sessions[order.PaymentSessionID] = order.ID
		}
		return nil
	})
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var out *domain.Order
	err := r.s.run(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (r *OrderRepository) Lock(ctx context.Context, id string) (*domain.Order, error) {
	return r.Get(ctx, id)
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.getByIndex(ctx, func(st *state) (string, bool) {
		id, ok := st.numbers[number]
		return id, ok
	})
}

func (r *OrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	return r.getByIndex(ctx, func(st *state) (string, bool) {
		id, ok := st.sessions[sessionID]
		return id, ok
	})
}

func (r *OrderRepository) getByIndex(ctx context.Context, lookup func(*state) (string, bool)) (*domain.Order, error) {
	var out *domain.Order
	err := r.s.run(ctx, func(st *state) error {
		id, ok := lookup(st)
		if !ok {
			return domain.ErrNotFound
		}
		out = st.orders[id].Clone()
		return nil
	})
	return out, err
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	return r.s.run(ctx, func(st *state) error {
		existing, ok := st.orders[order.ID]
		if !ok {
			return domain.ErrNotFound
		}
		updated := order.Clone()
		updated.Items = existing.Items
		st.orders[order.ID] = updated
		if order.PaymentSessionID != "" {
			st.sessions[order.PaymentSessionID] = order.ID
		}
		return nil
	})
}

func (r *OrderRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Order, error) {
	var out []*domain.Order
	err := r.s.run(ctx, func(st *state) error {
		for _, o := range st.orders {
			if filter.Status != "" && o.Status != filter.Status {
				continue
			}
			out = append(out, o.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

// NextOrderNumber implements order.NumberSequence.
func (r *OrderRepository) NextOrderNumber(ctx context.Context) (int64, error) {
	var n int64
	err := r.s.run(ctx, func(st *state) error {
		st.orderSeq++
		n = st.orderSeq
		return nil
	})
	return n, err
}
