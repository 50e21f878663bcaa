package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/farmstand/storefront/internal/domain/order"

	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, order_number, COALESCE(customer_id, ''), customer_name, customer_email, customer_phone,
	delivery_method, address_line1, address_line2, city, state, zip, notes,
	subtotal::text, delivery_fee::text, tax::text, total::text, status,
	payment_session_id, payment_reference, paid_at, cancelled_at, fulfillment_issue, created_at, updated_at`

type OrderRepository struct{ s *Store }

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                         domain.Order
		subtotal, fee, tax, total string
		method, status            string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone,
		&method, &o.Address.Line1, &o.Address.Line2, &o.Address.City, &o.Address.State, &o.Address.Zip, &o.Notes,
		&subtotal, &fee, &tax, &total, &status,
		&o.PaymentSessionID, &o.PaymentReference, &o.PaidAt, &o.CancelledAt, &o.FulfillmentIssue, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.DeliveryMethod = domain.DeliveryMethod(method)
	o.Status = domain.Status(status)
	if o.Subtotal, err = parseDecimal(subtotal); err != nil {
		return nil, err
	}
	if o.DeliveryFee, err = parseDecimal(fee); err != nil {
		return nil, err
	}
	if o.Tax, err = parseDecimal(tax); err != nil {
		return nil, err
	}
	if o.Total, err = parseDecimal(total); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	return r.s.WithinTx(ctx, func(ctx context.Context) error {
		db := r.s.db(ctx)
		_, err := db.Exec(ctx, `
			INSERT INTO orders (id, order_number, customer_id, customer_name, customer_email, customer_phone,
				delivery_method, address_line1, address_line2, city, state, zip, notes,
				subtotal, delivery_fee, tax, total, status, payment_session_id, payment_reference,
				paid_at, cancelled_at, fulfillment_issue, created_at, updated_at)
			VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
			o.ID, o.OrderNumber, o.CustomerID, o.CustomerName, o.CustomerEmail, o.CustomerPhone,
			string(o.DeliveryMethod), o.Address.Line1, o.Address.Line2, o.Address.City, o.Address.State, o.Address.Zip, o.Notes,
			o.Subtotal.String(), o.DeliveryFee.String(), o.Tax.String(), o.Total.String(), string(o.Status),
			o.PaymentSessionID, o.PaymentReference, o.PaidAt, o.CancelledAt, o.FulfillmentIssue, o.CreatedAt, o.UpdatedAt)
		if pgCode(err) == codeUniqueViolation {
			return domain.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("order repository: insert: %w", err)
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(`INSERT INTO order_items (id, order_id, position, product_id, product_name, product_price, quantity, total, is_preorder)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				it.ID, o.ID, i, it.ProductID, it.ProductName, it.ProductPrice.String(), it.Quantity, it.Total.String(), it.IsPreorder)
		}
		if err := db.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("order repository: insert items: %w", err)
		}
		return nil
	})
}

func (r *OrderRepository) one(ctx context.Context, where string, arg any) (*domain.Order, error) {
	o, err := scanOrder(r.s.db(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return r.one(ctx, `id = $1`, id)
}

func (r *OrderRepository) Lock(ctx context.Context, id string) (*domain.Order, error) {
	return r.one(ctx, `id = $1 FOR UPDATE`, id)
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.one(ctx, `order_number = $1`, number)
}

func (r *OrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	if sessionID == "" {
		return nil, domain.ErrNotFound
	}
	return r.one(ctx, `payment_session_id = $1`, sessionID)
}

// Update writes status and payment fields only; items are never rewritten.
func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	tag, err := r.s.db(ctx).Exec(ctx, `
		UPDATE orders SET status = $2, payment_session_id = $3, payment_reference = $4,
			paid_at = $5, cancelled_at = $6, fulfillment_issue = $7, updated_at = $8
		WHERE id = $1`,
		o.ID, string(o.Status), o.PaymentSessionID, o.PaymentReference,
		o.PaidAt, o.CancelledAt, o.FulfillmentIssue, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("order repository: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Order, error) {
	rows, err := r.s.db(ctx).Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT NULLIF($2, 0)`, string(filter.Status), limitArg(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("order repository: list: %w", err)
	}
	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("order repository: scan: %w", err)
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.s.db(ctx).Query(ctx, `
		SELECT order_id, id, product_id, product_name, product_price::text, quantity, total::text, is_preorder
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("order repository: items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID      string
			it           domain.Item
			price, total string
		)
		if err := rows.Scan(&orderID, &it.ID, &it.ProductID, &it.ProductName, &price, &it.Quantity, &total, &it.IsPreorder); err != nil {
			return fmt.Errorf("order repository: scan item: %w", err)
		}
		if it.ProductPrice, err = parseDecimal(price); err != nil {
			return err
		}
		if it.Total, err = parseDecimal(total); err != nil {
			return err
		}
		byID[orderID].Items = append(byID[orderID].Items, it)
	}
	return rows.Err()
}

// NextOrderNumber implements order.NumberSequence on a database sequence, so concurrent
// checkouts never compute the same number.
func (r *OrderRepository) NextOrderNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := r.s.db(ctx).QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("order repository: next number: %w", err)
	}
	return n, nil
}
