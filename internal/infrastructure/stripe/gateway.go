package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	dompayment "github.com/farmstand/storefront/internal/domain/payment"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
)

const (
	MetadataOrderID     = "orderId"
	MetadataOrderNumber = "orderNumber"

	// Hosted sessions must expire between 30 minutes and 24 hours out.
	minSessionTTL = 31 * time.Minute
	maxSessionTTL = 24 * time.Hour
)

// Gateway creates hosted Checkout Sessions.
type Gateway struct {
	client session.Client
	now    func() time.Time
}

func NewGateway(secretKey string) *Gateway {
	return NewGatewayWithBackend(secretKey, stripe.GetBackend(stripe.APIBackend))
}

func NewGatewayWithBackend(secretKey string, backend stripe.Backend) *Gateway {
	return &Gateway{
		client: session.Client{B: backend, Key: secretKey},
		now:    time.Now,
	}
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req dompayment.SessionRequest) (*dompayment.Session, error) {
	currency := strings.ToLower(req.Currency)
	metadata := map[string]string{
		MetadataOrderID:     req.OrderID,
		MetadataOrderNumber: req.OrderNumber,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
		ClientReferenceID: stripe.String(req.OrderNumber),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(g.clampExpiry(req.ExpiresAt).Unix())
	}
	for _, li := range req.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(li.Name),
		}
		if li.Description != "" {
			product.Description = stripe.String(li.Description)
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(li.UnitAmount),
			},
			Quantity: stripe.Int64(li.Quantity),
		})
	}
	params.Context = ctx

	s, err := g.client.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dompayment.ErrGateway, err)
	}
	return &dompayment.Session{ID: s.ID, URL: s.URL}, nil
}

func (g *Gateway) clampExpiry(at time.Time) time.Time {
	now := g.now()
	if lo := now.Add(minSessionTTL); at.Before(lo) {
		return lo
	}
	if hi := now.Add(maxSessionTTL); at.After(hi) {
		return hi
	}
	return at
}
