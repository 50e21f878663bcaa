package memory

import (
	"context"
	"time"

	domain "github.com/farmstand/storefront/internal/domain/customer"
)

type CustomerRepository struct{ s *Store }

func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	var out *domain.Customer
	err := r.s.run(ctx, func(st *state) error {
		c, ok := st.customers[domain.NormalizeEmail(email)]
		if !ok {
			return domain.ErrNotFound
		}
		cp := *c
		out = &cp
		return nil
	})
	return out, err
}

func (r *CustomerRepository) Upsert(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	var out *domain.Customer
	err := r.s.run(ctx, func(st *state) error {
		key := domain.NormalizeEmail(c.Email)
		stored, ok := st.customers[key]
		if !ok {
			cp := *c
			cp.Email = key
			stored = &cp
			st.customers[key] = stored
		} else {
			stored.FullName, stored.FirstName, stored.LastName = c.FullName, c.FirstName, c.LastName
			if c.Phone != "" {
				stored.Phone = c.Phone
			}
		}
		stored.OrderCount++
		stored.UpdatedAt = time.Now().UTC()
		cp := *stored
		out = &cp
		return nil
	})
	return out, err
}
