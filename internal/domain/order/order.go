package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: already exists")
	ErrInvalidQuantity        = errors.New("order: quantity must be greater than zero")
	ErrNoItems                = errors.New("order: at least one item is required")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrUnknownStatus          = errors.New("order: unknown status")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusPaid, StatusProcessing, StatusReady, StatusDelivered, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

type DeliveryMethod string

const (
	DeliveryPickup   DeliveryMethod = "pickup"
	DeliveryDelivery DeliveryMethod = "delivery"
)

// Item is a snapshot of the product at purchase time; it is never rewritten.
type Item struct {
	ID           string
	ProductID    string
	ProductName  string
	ProductPrice decimal.Decimal
	Quantity     int
	Total        decimal.Decimal
	IsPreorder   bool
}

func NewItem(id, productID, name string, price decimal.Decimal, qty int, preorder bool) (Item, error) {
	if qty <= 0 {
		return Item{}, ErrInvalidQuantity
	}
	return Item{
		ID:           id,
		ProductID:    productID,
		ProductName:  name,
		ProductPrice: price,
		Quantity:     qty,
		Total:        price.Mul(decimal.NewFromInt(int64(qty))),
		IsPreorder:   preorder,
	}, nil
}

type Address struct {
	Line1 string
	Line2 string
	City  string
	State string
	Zip   string
}

type Order struct {
	ID               string
	OrderNumber      string
	CustomerID       string
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	DeliveryMethod   DeliveryMethod
	Address          Address
	Notes            string
	Items            []Item
	Subtotal         decimal.Decimal
	DeliveryFee      decimal.Decimal
	Tax              decimal.Decimal
	Total            decimal.Decimal
	Status           Status
	PaymentSessionID string
	PaymentReference string
	PaidAt           *time.Time
	CancelledAt      *time.Time
	FulfillmentIssue string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Params carries everything needed to open a pending order.
type Params struct {
	ID             string
	OrderNumber    string
	CustomerID     string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	DeliveryMethod DeliveryMethod
	Address        Address
	Notes          string
	Items          []Item
	DeliveryFee    decimal.Decimal
	TaxRate        decimal.Decimal
}

// New builds a pending order; total = subtotal + delivery fee + tax.
func New(p Params) (*Order, error) {
	if len(p.Items) == 0 {
		return nil, ErrNoItems
	}
	subtotal := decimal.Zero
	for _, it := range p.Items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		subtotal = subtotal.Add(it.Total)
	}
	fee := decimal.Zero
	if p.DeliveryMethod == DeliveryDelivery {
		fee = p.DeliveryFee
	}
	tax := subtotal.Mul(p.TaxRate).Round(2)

	now := time.Now().UTC()
	items := make([]Item, len(p.Items))
	copy(items, p.Items)
	return &Order{
		ID:             p.ID,
		OrderNumber:    p.OrderNumber,
		CustomerID:     p.CustomerID,
		CustomerName:   p.CustomerName,
		CustomerEmail:  p.CustomerEmail,
		CustomerPhone:  p.CustomerPhone,
		DeliveryMethod: p.DeliveryMethod,
		Address:        p.Address,
		Notes:          p.Notes,
		Items:          items,
		Subtotal:       subtotal,
		DeliveryFee:    fee,
		Tax:            tax,
		Total:          subtotal.Add(fee).Add(tax),
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (o *Order) AttachSession(sessionID string) {
	o.PaymentSessionID = sessionID
	o.touch()
}

// MarkPaid moves a pending order to paid.
func (o *Order) MarkPaid(reference string, at time.Time) error {
	if err := o.transition(func(s OrderState) (OrderState, error) { return s.OnPaymentSucceeded(o) }); err != nil {
		return err
	}
	o.PaymentReference = reference
	paid := at.UTC()
	o.PaidAt = &paid
	return nil
}

func (o *Order) Cancel() error {
	if err := o.transition(func(s OrderState) (OrderState, error) { return s.OnCancelled(o) }); err != nil {
		return err
	}
	now := time.Now().UTC()
	o.CancelledAt = &now
	return nil
}

// Advance applies an admin status change through the state machine.
func (o *Order) Advance(target Status) error {
	switch target {
	case StatusProcessing:
		return o.transition(func(s OrderState) (OrderState, error) { return s.OnProcessing(o) })
	case StatusReady:
		return o.transition(func(s OrderState) (OrderState, error) { return s.OnReady(o) })
	case StatusDelivered:
		return o.transition(func(s OrderState) (OrderState, error) { return s.OnDelivered(o) })
	case StatusCancelled:
		return o.Cancel()
	case StatusPaid, StatusPending:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, o.Status, target)
	}
	return fmt.Errorf("%w: %q", ErrUnknownStatus, target)
}

// RecordIssue appends a fulfilment note without changing status.
func (o *Order) RecordIssue(issue string) {
	if issue == "" {
		return
	}
	if o.FulfillmentIssue != "" {
		o.FulfillmentIssue += "; "
	}
	o.FulfillmentIssue += issue
	o.touch()
}

func (o *Order) IsPending() bool { return o.Status == StatusPending }

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		cp.PaidAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}

func (o *Order) transition(fn func(OrderState) (OrderState, error)) error {
	current, err := stateFor(o.Status)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return fmt.Errorf("%w: from %s", err, o.Status)
	}
	o.Status = next.Status()
	o.touch()
	return nil
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

// FormatNumber renders a human order number such as BR-2026-0001.
func FormatNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}
