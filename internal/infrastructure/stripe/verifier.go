package stripe

import (
	"encoding/json"
	"fmt"

	dompayment "github.com/farmstand/storefront/internal/domain/payment"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Verifier checks the stripe-signature header and maps the event to the gateway-neutral form.
type Verifier struct {
	secret string
}

func NewVerifier(webhookSecret string) *Verifier {
	return &Verifier{secret: webhookSecret}
}

func (v *Verifier) VerifyEvent(payload []byte, signature string) (*dompayment.Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dompayment.ErrInvalidSignature, err)
	}

	out := &dompayment.Event{ID: evt.ID, Type: dompayment.EventType(evt.Type)}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case dompayment.EventCheckoutCompleted, dompayment.EventCheckoutExpired:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		out.SessionID = s.ID
		out.OrderID = s.Metadata[MetadataOrderID]
		out.OrderNumber = s.Metadata[MetadataOrderNumber]
		out.AmountTotal = s.AmountTotal
		out.Currency = string(s.Currency)
		if s.PaymentIntent != nil {
			out.PaymentReference = s.PaymentIntent.ID
		}
	case dompayment.EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		out.PaymentReference = pi.ID
		out.OrderID = pi.Metadata[MetadataOrderID]
		out.OrderNumber = pi.Metadata[MetadataOrderNumber]
		out.AmountTotal = pi.Amount
		out.Currency = string(pi.Currency)
		if pi.LastPaymentError != nil {
			out.FailureMessage = pi.LastPaymentError.Msg
		}
	}
	return out, nil
}
