package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	domain "github.com/farmstand/storefront/internal/domain/catalog"
)

type ProductRepository struct{ s *Store }

func (r *ProductRepository) List(ctx context.Context) ([]*domain.Product, error) {
	var out []*domain.Product
	err := r.s.run(ctx, func(st *state) error {
		out = make([]*domain.Product, 0, len(st.products))
		for _, p := range st.products {
			out = append(out, p.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	var out *domain.Product
	err := r.s.run(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	var out *domain.Product
	err := r.s.run(ctx, func(st *state) error {
		id, ok := st.slugs[slug]
		if !ok {
			return domain.ErrNotFound
		}
		out = st.products[id].Clone()
		return nil
	})
	return out, err
}

func (r *ProductRepository) FindByIDs(ctx context.Context, ids []string) ([]*domain.Product, error) {
	var out []*domain.Product
	err := r.s.run(ctx, func(st *state) error {
		out = collect(st, ids)
		return nil
	})
	return out, err
}

// LockByIDs is FindByIDs; inside WithinTx the store mutex already excludes other writers.
func (r *ProductRepository) LockByIDs(ctx context.Context, ids []string) ([]*domain.Product, error) {
	return r.FindByIDs(ctx, ids)
}

func (r *ProductRepository) Insert(ctx context.Context, p *domain.Product) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("product repository: id is required")
	}
	return r.s.run(ctx, func(st *state) error {
		if _, exists := st.products[p.ID]; exists {
			return fmt.Errorf("product repository: id %s: %w", p.ID, domain.ErrDuplicate)
		}
		if _, exists := st.slugs[p.Slug]; exists && p.Slug != "" {
			return fmt.Errorf("product repository: slug %s: %w", p.Slug, domain.ErrDuplicate)
		}
		cp := p.Clone()
		now := time.Now().UTC()
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		cp.InStock = cp.StockQuantity > 0
		st.products[cp.ID] = cp
		if cp.Slug != "" {
			st.slugs[cp.Slug] = cp.ID
		}
		return nil
	})
}

func (r *ProductRepository) Update(ctx context.Context, p *domain.Product) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("product repository: id is required")
	}
	if p.StockQuantity < 0 || p.ReservedQuantity < 0 {
		return domain.ErrNegativeStock
	}
	return r.s.run(ctx, func(st *state) error {
		old, exists := st.products[p.ID]
		if !exists {
			return domain.ErrNotFound
		}
		if old.Slug != p.Slug {
			delete(st.slugs, old.Slug)
			st.slugs[p.Slug] = p.ID
		}
		st.products[p.ID] = p.Clone()
		return nil
	})
}

func collect(st *state, ids []string) []*domain.Product {
	out := make([]*domain.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := st.products[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out
}

type ReservationRepository struct{ s *Store }

func (r *ReservationRepository) Insert(ctx context.Context, rs []domain.Reservation) error {
	return r.s.run(ctx, func(st *state) error {
		for _, res := range rs {
			st.reservations[res.OrderID] = append(st.reservations[res.OrderID], res)
		}
		return nil
	})
}

func (r *ReservationRepository) FindByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := r.s.run(ctx, func(st *state) error {
		out = append([]domain.Reservation(nil), st.reservations[orderID]...)
		return nil
	})
	return out, err
}

func (r *ReservationRepository) DeleteByOrder(ctx context.Context, orderID string) error {
	return r.s.run(ctx, func(st *state) error {
		delete(st.reservations, orderID)
		return nil
	})
}

func (r *ReservationRepository) ExpiredOrders(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var out []string
	err := r.s.run(ctx, func(st *state) error {
		for orderID, rs := range st.reservations {
			for _, res := range rs {
				if res.ExpiresAt.Before(before) {
					out = append(out, orderID)
					break
				}
			}
		}
		return nil
	})
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}
