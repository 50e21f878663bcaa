package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/farmstand/storefront/internal/domain/catalog"

	"github.com/jackc/pgx/v5"
)

const productColumns = `id, slug, name, description, price::text, unit, category, subcategory,
	stock_quantity, reserved_quantity, low_stock_threshold, in_stock,
	preorder_enabled, preorder_limit, preorder_count, preorder_reserved, created_at, updated_at`

type ProductRepository struct{ s *Store }

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &price, &p.Unit, &p.Category, &p.Subcategory,
		&p.StockQuantity, &p.ReservedQuantity, &p.LowStockThreshold, &p.InStock,
		&p.PreorderEnabled, &p.PreorderLimit, &p.PreorderCount, &p.PreorderReserved, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Price, err = parseDecimal(price); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepository) query(ctx context.Context, sql string, args ...any) ([]*domain.Product, error) {
	rows, err := r.s.db(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("product repository: query: %w", err)
	}
	defer rows.Close()

	var out []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("product repository: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ProductRepository) List(ctx context.Context) ([]*domain.Product, error) {
	return r.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(r.s.db(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	return scanProduct(r.s.db(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug))
}

func (r *ProductRepository) FindByIDs(ctx context.Context, ids []string) ([]*domain.Product, error) {
	return r.query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id`, ids)
}

// LockByIDs takes row locks in id order so concurrent checkouts cannot deadlock.
func (r *ProductRepository) LockByIDs(ctx context.Context, ids []string) ([]*domain.Product, error) {
	return r.query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
}

func (r *ProductRepository) Insert(ctx context.Context, p *domain.Product) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("product repository: id is required")
	}
	now := time.Now().UTC()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := r.s.db(ctx).Exec(ctx, `
		INSERT INTO products (id, slug, name, description, price, unit, category, subcategory,
			stock_quantity, reserved_quantity, low_stock_threshold, in_stock,
			preorder_enabled, preorder_limit, preorder_count, preorder_reserved, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		p.ID, p.Slug, p.Name, p.Description, p.Price.String(), p.Unit, p.Category, p.Subcategory,
		p.StockQuantity, p.ReservedQuantity, p.LowStockThreshold, p.StockQuantity > 0,
		p.PreorderEnabled, p.PreorderLimit, p.PreorderCount, p.PreorderReserved, created, now)
	switch pgCode(err) {
	case "":
		return err
	case codeUniqueViolation:
		return fmt.Errorf("product repository: id or slug %s: %w", p.Slug, domain.ErrDuplicate)
	case codeCheckViolation:
		return domain.ErrNegativeStock
	}
	return fmt.Errorf("product repository: insert: %w", err)
}

func (r *ProductRepository) Update(ctx context.Context, p *domain.Product) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("product repository: id is required")
	}
	if p.StockQuantity < 0 || p.ReservedQuantity < 0 {
		return domain.ErrNegativeStock
	}
	tag, err := r.s.db(ctx).Exec(ctx, `
		UPDATE products SET slug = $2, name = $3, description = $4, price = $5, unit = $6,
			category = $7, subcategory = $8, stock_quantity = $9, reserved_quantity = $10,
			low_stock_threshold = $11, in_stock = $12, preorder_enabled = $13, preorder_limit = $14,
			preorder_count = $15, preorder_reserved = $16, updated_at = $17
		WHERE id = $1`,
		p.ID, p.Slug, p.Name, p.Description, p.Price.String(), p.Unit,
		p.Category, p.Subcategory, p.StockQuantity, p.ReservedQuantity,
		p.LowStockThreshold, p.InStock, p.PreorderEnabled, p.PreorderLimit,
		p.PreorderCount, p.PreorderReserved, time.Now().UTC())
	if pgCode(err) == codeCheckViolation {
		return domain.ErrNegativeStock
	}
	if err != nil {
		return fmt.Errorf("product repository: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type ReservationRepository struct{ s *Store }

func (r *ReservationRepository) Insert(ctx context.Context, rs []domain.Reservation) error {
	if len(rs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, res := range rs {
		created := res.CreatedAt
		if created.IsZero() {
			created = now
		}
		batch.Queue(`INSERT INTO reservations (order_id, product_id, quantity, preorder, expires_at, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			res.OrderID, res.ProductID, res.Quantity, res.Preorder, res.ExpiresAt, created)
	}
	if err := r.s.db(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("reservation repository: insert: %w", err)
	}
	return nil
}

func (r *ReservationRepository) FindByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	rows, err := r.s.db(ctx).Query(ctx, `
		SELECT order_id, product_id, quantity, preorder, expires_at, created_at
		FROM reservations WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("reservation repository: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.OrderID, &res.ProductID, &res.Quantity, &res.Preorder, &res.ExpiresAt, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("reservation repository: scan: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *ReservationRepository) DeleteByOrder(ctx context.Context, orderID string) error {
	if _, err := r.s.db(ctx).Exec(ctx, `DELETE FROM reservations WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("reservation repository: delete: %w", err)
	}
	return nil
}

func (r *ReservationRepository) ExpiredOrders(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.s.db(ctx).Query(ctx, `
		SELECT order_id FROM reservations
		WHERE expires_at < $1
		GROUP BY order_id
		ORDER BY order_id
		LIMIT NULLIF($2, 0)`, before, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("reservation repository: expired: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
