package settings

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("settings: key not found")

const (
	KeyDeliveryFee = "delivery_fee"
	KeyTaxRate     = "tax_rate"
)

var (
	DefaultDeliveryFee = decimal.NewFromInt(5)
	DefaultTaxRate     = decimal.Zero
)

type Repository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Pricing is the subset of settings checkout depends on.
type Pricing struct {
	DeliveryFee decimal.Decimal
	TaxRate     decimal.Decimal
}

// Decimal parses a stored value, falling back to def when missing or malformed.
func Decimal(raw string, def decimal.Decimal) decimal.Decimal {
	if raw == "" {
		return def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return def
	}
	return d
}
