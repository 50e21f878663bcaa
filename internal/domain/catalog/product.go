package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("catalog: product not found")
	ErrInvalidQuantity   = errors.New("catalog: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("catalog: insufficient stock")
	ErrNegativeStock     = errors.New("catalog: stock cannot go below zero")
	ErrDuplicate         = errors.New("catalog: product already exists")
)

// NotFoundError names the product ids a request referenced that do not exist.
type NotFoundError struct {
	IDs []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Products not found: %v", e.IDs)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError is reported before any payment session is created.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s. Available: %d", e.Name, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type Product struct {
	ID                string
	Slug              string
	Name              string
	Description       string
	Price             decimal.Decimal
	Unit              string
	Category          string
	Subcategory       string
	StockQuantity     int
	ReservedQuantity  int
	LowStockThreshold int
	InStock           bool
	PreorderEnabled   bool
	PreorderLimit     int
	PreorderCount     int
	PreorderReserved  int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Available is stock not already held by a pending checkout.
func (p *Product) Available() int {
	if n := p.StockQuantity - p.ReservedQuantity; n > 0 {
		return n
	}
	return 0
}

func (p *Product) PreorderAvailable() int {
	if !p.PreorderEnabled {
		return 0
	}
	if n := p.PreorderLimit - p.PreorderCount - p.PreorderReserved; n > 0 {
		return n
	}
	return 0
}

// IsLowStock reports whether the on-hand quantity has reached the alert threshold.
func (p *Product) IsLowStock() bool {
	return p.StockQuantity <= p.LowStockThreshold
}

func (p *Product) Reserve(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > p.Available() {
		return p.insufficient(qty, p.Available())
	}
	p.ReservedQuantity += qty
	p.touch()
	return nil
}

func (p *Product) ReservePreorder(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > p.PreorderAvailable() {
		return p.insufficient(qty, p.PreorderAvailable())
	}
	p.PreorderReserved += qty
	p.touch()
	return nil
}

// Release returns held units. Over-release is clamped to zero.
func (p *Product) Release(qty int, preorder bool) {
	if preorder {
		p.PreorderReserved = max(p.PreorderReserved-qty, 0)
	} else {
		p.ReservedQuantity = max(p.ReservedQuantity-qty, 0)
	}
	p.touch()
}

// CommitReserved turns a held reservation into a stock deduction.
func (p *Product) CommitReserved(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > p.StockQuantity {
		return ErrNegativeStock
	}
	p.ReservedQuantity = max(p.ReservedQuantity-qty, 0)
	p.StockQuantity -= qty
	p.refresh()
	return nil
}

// Deduct removes stock that was never reserved; it only succeeds against unreserved units.
func (p *Product) Deduct(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > p.Available() {
		return p.insufficient(qty, p.Available())
	}
	p.StockQuantity -= qty
	p.refresh()
	return nil
}

// CommitPreorder converts reserved pre-order capacity (or free capacity) into a counted pre-order.
func (p *Product) CommitPreorder(qty int, reserved bool) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if reserved {
		p.PreorderReserved = max(p.PreorderReserved-qty, 0)
	} else if qty > p.PreorderAvailable() {
		return p.insufficient(qty, p.PreorderAvailable())
	}
	p.PreorderCount += qty
	p.touch()
	return nil
}

func (p *Product) SetStock(qty int) error {
	if qty < 0 {
		return ErrNegativeStock
	}
	p.StockQuantity = qty
	p.refresh()
	return nil
}

func (p *Product) AdjustStock(delta int) error {
	return p.SetStock(p.StockQuantity + delta)
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func (p *Product) insufficient(requested, available int) error {
	return &InsufficientStockError{ProductID: p.ID, Name: p.Name, Available: available, Requested: requested}
}

func (p *Product) refresh() {
	p.InStock = p.StockQuantity > 0
	p.touch()
}

func (p *Product) touch() {
	p.UpdatedAt = time.Now().UTC()
}
