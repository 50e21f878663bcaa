package order

import "context"

type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Lock loads the order and holds a row lock for the surrounding transaction.
	Lock(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Order, error)
	// Update persists status and payment fields; items are immutable.
	Update(ctx context.Context, order *Order) error
	List(ctx context.Context, filter ListFilter) ([]*Order, error)
}

type ListFilter struct {
	Status Status
	Limit  int
}

// NumberSequence hands out monotonically increasing values for order numbers.
type NumberSequence interface {
	NextOrderNumber(ctx context.Context) (int64, error)
}
