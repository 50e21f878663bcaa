package catalog

import (
	"context"
	"time"
)

type Repository interface {
	List(ctx context.Context) ([]*Product, error)
	Get(ctx context.Context, id string) (*Product, error)
	FindBySlug(ctx context.Context, slug string) (*Product, error)
	// FindByIDs returns the products that exist; missing ids are simply absent.
	FindByIDs(ctx context.Context, ids []string) ([]*Product, error)
	// LockByIDs loads and row-locks products for the surrounding transaction.
	LockByIDs(ctx context.Context, ids []string) ([]*Product, error)
	Insert(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
}

// Reservation holds stock (or pre-order capacity) for one line of a pending order.
type Reservation struct {
	OrderID   string
	ProductID string
	Quantity  int
	Preorder  bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

type ReservationRepository interface {
	Insert(ctx context.Context, r []Reservation) error
	FindByOrder(ctx context.Context, orderID string) ([]Reservation, error)
	DeleteByOrder(ctx context.Context, orderID string) error
	// ExpiredOrders lists distinct order ids whose reservations expired before the cutoff.
	ExpiredOrders(ctx context.Context, before time.Time, limit int) ([]string, error)
}
