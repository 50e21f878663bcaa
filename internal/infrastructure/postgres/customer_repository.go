package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/farmstand/storefront/internal/domain/customer"

	"github.com/jackc/pgx/v5"
)

const customerColumns = `id, email, first_name, last_name, full_name, phone, order_count, created_at, updated_at`

type CustomerRepository struct{ s *Store }

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.FullName, &c.Phone, &c.OrderCount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return &c, err
}

func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return scanCustomer(r.s.db(ctx).QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE email = $1`, domain.NormalizeEmail(email)))
}

// Upsert keys on email; an existing record keeps its id and phone unless a new one is given.
func (r *CustomerRepository) Upsert(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	out, err := scanCustomer(r.s.db(ctx).QueryRow(ctx, `
		INSERT INTO customers (id, email, first_name, last_name, full_name, phone, order_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7 + 1, now(), now())
		ON CONFLICT (email) DO UPDATE SET
			first_name  = EXCLUDED.first_name,
			last_name   = EXCLUDED.last_name,
			full_name   = EXCLUDED.full_name,
			phone       = COALESCE(NULLIF(EXCLUDED.phone, ''), customers.phone),
			order_count = customers.order_count + 1,
			updated_at  = now()
		RETURNING `+customerColumns,
		c.ID, domain.NormalizeEmail(c.Email), c.FirstName, c.LastName, c.FullName, c.Phone, c.OrderCount))
	if err != nil {
		return nil, fmt.Errorf("customer repository: upsert: %w", err)
	}
	return out, nil
}
