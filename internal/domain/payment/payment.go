package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
	ErrGateway          = errors.New("payment: gateway failure")
	ErrLocked           = errors.New("payment: event is being processed")
)

type EventType string

const (
	EventCheckoutCompleted EventType = "checkout.session.completed"
	EventCheckoutExpired   EventType = "checkout.session.expired"
	EventPaymentFailed     EventType = "payment_intent.payment_failed"
)

// LineItem is priced in minor units of Currency.
type LineItem struct {
	Name        string
	Description string
	UnitAmount  int64
	Quantity    int64
}

type SessionRequest struct {
	OrderID       string
	OrderNumber   string
	CustomerEmail string
	Currency      string
	LineItems     []LineItem
	SuccessURL    string
	CancelURL     string
	ExpiresAt     time.Time
}

type Session struct {
	ID  string
	URL string
}

// Gateway creates hosted payment sessions.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// Event is the gateway-neutral view of a verified webhook delivery.
type Event struct {
	ID               string
	Type             EventType
	SessionID        string
	OrderID          string
	OrderNumber      string
	PaymentReference string
	AmountTotal      int64
	Currency         string
	FailureMessage   string
}

// EventVerifier authenticates a raw webhook payload and decodes it.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (*Event, error)
}

// EventLog records processed event ids inside the caller's transaction.
type EventLog interface {
	// Record returns false when the id was already processed.
	Record(ctx context.Context, eventID string, eventType EventType) (bool, error)
}

// EventLock serialises concurrent deliveries of the same event across instances.
type EventLock interface {
	Acquire(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// ToMinorUnits converts a decimal amount to cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
