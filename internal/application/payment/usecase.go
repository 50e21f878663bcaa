package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/farmstand/storefront/internal/application"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	dompayment "github.com/farmstand/storefront/internal/domain/payment"
	"github.com/farmstand/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	paymentService  = "payment-service"
	useCaseWebhook  = "payment.webhook"
	webhookSpanName = "HandlePaymentWebhook"
)

// Outcome tells the caller what the delivery did. Every outcome is acknowledged with 200.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// StockCommitter applies or frees the stock held for an order.
type StockCommitter interface {
	CommitOrder(ctx context.Context, o *domorder.Order) ([]domorder.ShortfallLine, error)
	Release(ctx context.Context, orderID string) error
}

type Input struct {
	Payload   []byte
	Signature string
}

type Result struct {
	EventID string
	Type    dompayment.EventType
	Outcome Outcome
}

// HandleWebhookUseCase finalises or cancels orders from verified gateway events. Each event id
// is applied at most once: a processed-events row is written in the same transaction as the
// order and stock changes, and a short-lived lock keeps concurrent redeliveries apart.
type HandleWebhookUseCase struct {
	verifier dompayment.EventVerifier
	lock     dompayment.EventLock
	tx       application.Transactor
	events   dompayment.EventLog
	orders   domorder.Repository
	stock    StockCommitter
	outbox   domoutbox.Enqueuer
	ids      application.IDGenerator
	now      func() time.Time

	inst          application.Instruments
	eventsCounter observability.Counter // webhook_events_total{event_type,outcome}
}

func NewHandleWebhookUseCase(
	verifier dompayment.EventVerifier,
	lock dompayment.EventLock,
	tx application.Transactor,
	events dompayment.EventLog,
	orders domorder.Repository,
	stock StockCommitter,
	outbox domoutbox.Enqueuer,
	ids application.IDGenerator,
	tel observability.Observability,
) *HandleWebhookUseCase {
	tel = observability.OrNop(tel)
	return &HandleWebhookUseCase{
		verifier:      verifier,
		lock:          lock,
		tx:            tx,
		events:        events,
		orders:        orders,
		stock:         stock,
		outbox:        outbox,
		ids:           ids,
		now:           time.Now,
		inst:          application.NewInstruments(tel, paymentService),
		eventsCounter: tel.Metrics().Counter(observability.MWebhookEvents),
	}
}

func (uc *HandleWebhookUseCase) Execute(ctx context.Context, in Input) (_ *Result, err error) {
	ctx, run := uc.inst.Start(ctx, useCaseWebhook, webhookSpanName)
	result := &Result{}
	defer func() {
		if uc.eventsCounter != nil && result.Type != "" {
			outcome := string(result.Outcome)
			if err != nil {
				outcome = "error"
			}
			uc.eventsCounter.Add(1,
				observability.L("event_type", string(result.Type)),
				observability.L("outcome", outcome),
			)
		}
		run.End(err)
	}()

	evt, verr := uc.verifier.VerifyEvent(in.Payload, in.Signature)
	if verr != nil {
		run.Fail("SIGNATURE_INVALID")
		if errors.Is(verr, dompayment.ErrInvalidSignature) {
			return nil, verr
		}
		return nil, fmt.Errorf("%w: %w", dompayment.ErrInvalidSignature, verr)
	}
	result.EventID, result.Type = evt.ID, evt.Type
	run.Field("event_id", evt.ID)
	run.Field("event_type", string(evt.Type))
	run.Span().SetAttributes(
		attribute.String("payment.event_id", evt.ID),
		attribute.String("payment.event_type", string(evt.Type)),
	)

	if uc.lock != nil {
		acquired, lerr := uc.lock.Acquire(ctx, evt.ID)
		if lerr != nil {
			run.Fail("LOCK_FAILED")
			return nil, fmt.Errorf("payment: acquire event lock: %w", lerr)
		}
		if !acquired {
			run.Fail("EVENT_IN_FLIGHT")
			return nil, dompayment.ErrLocked
		}
		defer func() {
			if rerr := uc.lock.Release(context.WithoutCancel(ctx), evt.ID); rerr != nil {
				run.Logger.Warn("event_lock_release_failed",
					observability.F("event_id", evt.ID),
					observability.F("error", rerr.Error()),
				)
			}
		}()
	}

	err = uc.tx.WithinTx(ctx, func(ctx context.Context) error {
		first, err := uc.events.Record(ctx, evt.ID, evt.Type)
		if err != nil {
			return fmt.Errorf("payment: record event: %w", err)
		}
		if !first {
			result.Outcome = OutcomeDuplicate
			return nil
		}

		switch evt.Type {
		case dompayment.EventCheckoutCompleted:
			result.Outcome, err = uc.completed(ctx, run, evt)
		case dompayment.EventCheckoutExpired:
			result.Outcome, err = uc.expired(ctx, run, evt)
		case dompayment.EventPaymentFailed:
			run.Logger.Warn("payment_failed",
				observability.F("event_id", evt.ID),
				observability.F("payment_reference", evt.PaymentReference),
				observability.F("failure_message", evt.FailureMessage),
			)
			result.Outcome = OutcomeIgnored
		default:
			result.Outcome = OutcomeIgnored
		}
		return err
	})
	if err != nil {
		run.Fail("EVENT_APPLY_FAILED")
		return nil, err
	}
	if result.Outcome == OutcomeDuplicate {
		run.Status("DUPLICATE")
	}
	run.Field("event_outcome", string(result.Outcome))
	return result, nil
}

func (uc *HandleWebhookUseCase) completed(ctx context.Context, run *application.Run, evt *dompayment.Event) (Outcome, error) {
	o, err := uc.resolveOrder(ctx, evt)
	if errors.Is(err, domorder.ErrNotFound) {
		run.Status("ORDER_NOT_FOUND")
		run.Logger.Warn("webhook_order_not_found",
			observability.F("event_id", evt.ID),
			observability.F("order_id", evt.OrderID),
			observability.F("session_id", evt.SessionID),
		)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	run.Field("order_id", o.ID)
	run.Field("order_number", o.OrderNumber)

	switch o.Status {
	case domorder.StatusPending:
	case domorder.StatusCancelled:
		// paid after the reservation lapsed; the money is real so the farm has to follow up
		o.RecordIssue(fmt.Sprintf("payment %s received after cancellation", evt.PaymentReference))
		run.Status("PAID_AFTER_CANCEL")
		run.Logger.Error("payment_for_cancelled_order",
			observability.F("order_id", o.ID),
			observability.F("payment_reference", evt.PaymentReference),
		)
		return OutcomeProcessed, uc.orders.Update(ctx, o)
	default:
		run.Status("ALREADY_PAID")
		return OutcomeIgnored, nil
	}

	now := uc.now().UTC()
	if err := o.MarkPaid(evt.PaymentReference, now); err != nil {
		return "", err
	}
	if charged := dompayment.FromMinorUnits(evt.AmountTotal); evt.AmountTotal > 0 && !charged.Equal(o.Total) {
		o.RecordIssue(fmt.Sprintf("charged %s but order total is %s", charged.StringFixed(2), o.Total.StringFixed(2)))
		run.Logger.Warn("payment_amount_mismatch",
			observability.F("order_id", o.ID),
			observability.F("charged", charged.StringFixed(2)),
			observability.F("total", o.Total.StringFixed(2)),
		)
	}

	shortfalls, err := uc.stock.CommitOrder(ctx, o)
	if err != nil {
		return "", err
	}
	if len(shortfalls) > 0 {
		for _, s := range shortfalls {
			o.RecordIssue(fmt.Sprintf("short %d of %s", s.Requested-s.Available, s.Name))
		}
		if err := uc.enqueue(ctx, o.ID, domorder.StockShortfallEvent{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			Lines:       shortfalls,
			OccurredAt:  now,
		}); err != nil {
			return "", err
		}
		run.Status("PAID_WITH_SHORTFALL")
	}

	if err := uc.orders.Update(ctx, o); err != nil {
		return "", fmt.Errorf("payment: update order: %w", err)
	}
	if err := uc.enqueue(ctx, o.ID, domorder.NewPaidEvent(o)); err != nil {
		return "", err
	}

	run.Span().AddEvent("order.paid",
		trace.WithAttributes(attribute.String("order.number", o.OrderNumber)),
	)
	return OutcomeProcessed, nil
}

func (uc *HandleWebhookUseCase) expired(ctx context.Context, run *application.Run, evt *dompayment.Event) (Outcome, error) {
	o, err := uc.resolveOrder(ctx, evt)
	if errors.Is(err, domorder.ErrNotFound) {
		run.Status("ORDER_NOT_FOUND")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	run.Field("order_id", o.ID)
	if !o.IsPending() {
		run.Status("NOT_PENDING")
		return OutcomeIgnored, nil
	}
	if err := o.Cancel(); err != nil {
		return "", err
	}
	o.RecordIssue("payment session expired")
	if err := uc.orders.Update(ctx, o); err != nil {
		return "", fmt.Errorf("payment: update order: %w", err)
	}
	if err := uc.stock.Release(ctx, o.ID); err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}

// resolveOrder prefers the order id from session metadata and falls back to the session id.
func (uc *HandleWebhookUseCase) resolveOrder(ctx context.Context, evt *dompayment.Event) (*domorder.Order, error) {
	if evt.OrderID != "" {
		o, err := uc.orders.Lock(ctx, evt.OrderID)
		if err == nil || !errors.Is(err, domorder.ErrNotFound) {
			return o, err
		}
	}
	if evt.SessionID == "" {
		return nil, domorder.ErrNotFound
	}
	o, err := uc.orders.GetBySessionID(ctx, evt.SessionID)
	if err != nil {
		return nil, err
	}
	return uc.orders.Lock(ctx, o.ID)
}

func (uc *HandleWebhookUseCase) enqueue(ctx context.Context, aggregateID string, e domoutbox.Event) error {
	if uc.outbox == nil {
		return nil
	}
	msg, err := domoutbox.NewMessage(uc.ids.NewID(), aggregateID, e)
	if err != nil {
		return err
	}
	if err := uc.outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("payment: enqueue %s: %w", e.EventName(), err)
	}
	return nil
}
