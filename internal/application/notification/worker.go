package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	dominventory "github.com/farmstand/storefront/internal/domain/inventory"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	"github.com/farmstand/storefront/internal/observability"
	"github.com/farmstand/storefront/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	workerService = "notification-worker"
	spanPrefix    = "UC."

	AudienceCustomer = "customer"
	AudienceFarm     = "farm"
)

// Notice is one human-facing message produced from a domain event.
type Notice struct {
	Audience string
	To       string
	Subject  string
	Body     string
}

// Notifier delivers notices (email, SMS, chat). The default implementation logs them.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Worker turns delivered outbox messages into notices for customers and the farm.
type Worker struct {
	notifier  Notifier
	farmEmail string
	tel       observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewWorker(notifier Notifier, farmEmail string, tel observability.Observability) *Worker {
	tel = observability.OrNop(tel)
	return &Worker{
		notifier:     notifier,
		farmEmail:    farmEmail,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", workerService)),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

// Handlers maps each topic to its handler, for registration on a Subscriber.
func (w *Worker) Handlers() map[string]domoutbox.Handler {
	return map[string]domoutbox.Handler{
		domorder.TopicPaid:           w.handleOrderPaid,
		domorder.TopicStockShortfall: w.handleStockShortfall,
		dominventory.TopicLowStock:   w.handleLowStock,
	}
}

func (w *Worker) Start(subscriber domoutbox.Subscriber) {
	if subscriber == nil || w.notifier == nil {
		return
	}
	for topic, h := range w.Handlers() {
		subscriber.Subscribe(topic, h)
	}
}

func (w *Worker) handleOrderPaid(ctx context.Context, e domoutbox.Event) error {
	return w.handle(ctx, e, "notification.order_paid", "OrderPaid", func(ctx context.Context, payload []byte) ([]Notice, error) {
		var evt domorder.PaidEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		var lines strings.Builder
		for _, it := range evt.Items {
			tag := ""
			if it.IsPreorder {
				tag = " (pre-order)"
			}
			fmt.Fprintf(&lines, "%d x %s%s  %s\n", it.Quantity, it.Name, tag, it.Total.StringFixed(2))
		}
		fmt.Fprintf(&lines, "Total %s (%s)", evt.Total.StringFixed(2), evt.DeliveryMethod)
		return []Notice{
			{
				Audience: AudienceCustomer,
				To:       evt.CustomerEmail,
				Subject:  "Order " + evt.OrderNumber + " confirmed",
				Body:     lines.String(),
			},
			{
				Audience: AudienceFarm,
				To:       w.farmEmail,
				Subject:  "New order " + evt.OrderNumber + " from " + evt.CustomerName,
				Body:     lines.String(),
			},
		}, nil
	})
}

func (w *Worker) handleStockShortfall(ctx context.Context, e domoutbox.Event) error {
	return w.handle(ctx, e, "notification.stock_shortfall", "StockShortfall", func(ctx context.Context, payload []byte) ([]Notice, error) {
		var evt domorder.StockShortfallEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		var body strings.Builder
		for _, l := range evt.Lines {
			fmt.Fprintf(&body, "%s: ordered %d, available %d\n", l.Name, l.Requested, l.Available)
		}
		return []Notice{{
			Audience: AudienceFarm,
			To:       w.farmEmail,
			Subject:  "Paid order " + evt.OrderNumber + " is short on stock",
			Body:     body.String(),
		}}, nil
	})
}

func (w *Worker) handleLowStock(ctx context.Context, e domoutbox.Event) error {
	return w.handle(ctx, e, "notification.low_stock", "LowStock", func(ctx context.Context, payload []byte) ([]Notice, error) {
		var evt dominventory.LowStockEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		subject := fmt.Sprintf("Low stock: %s (%d left)", evt.Name, evt.Quantity)
		if evt.OutOfStock {
			subject = "Out of stock: " + evt.Name
		}
		return []Notice{{
			Audience: AudienceFarm,
			To:       w.farmEmail,
			Subject:  subject,
			Body:     fmt.Sprintf("%s is at %d (threshold %d).", evt.Name, evt.Quantity, evt.Threshold),
		}}, nil
	})
}

type renderFunc func(ctx context.Context, payload []byte) ([]Notice, error)

func (w *Worker) handle(ctx context.Context, e domoutbox.Event, useCase, spanName string, render renderFunc) (err error) {
	msg, ok := e.(domoutbox.Message)
	if !ok {
		w.count(useCase, "ignored")
		return nil
	}

	ctx, span := w.tel.Tracer().Start(ctx, spanPrefix+spanName,
		attribute.String("use_case", useCase),
		attribute.String("event", e.EventName()),
		attribute.String("outbox.message_id", msg.ID),
	)
	start := time.Now()
	outcome, status := "success", "OK"
	sent := 0

	ctx, logger := logctx.Scoped(ctx, w.log,
		observability.F("use_case", useCase),
		observability.F("event", e.EventName()),
	)

	defer func() {
		lat := time.Since(start).Seconds()
		w.observe(useCase, outcome, lat)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
			observability.F("aggregate_id", msg.AggregateID),
			observability.F("notices", sent),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)

		if outcome == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()
	}()

	notices, err := render(ctx, msg.Payload)
	if err != nil {
		outcome, status = "error", "PAYLOAD_DECODE_FAILED"
		return fmt.Errorf("notification: decode %s: %w", msg.Topic, err)
	}
	for _, n := range notices {
		if n.To == "" {
			continue
		}
		if err = w.notifier.Notify(ctx, n); err != nil {
			outcome, status = "error", "NOTIFY_FAILED"
			return fmt.Errorf("notification: notify %s: %w", n.Audience, err)
		}
		sent++
	}
	return nil
}

func (w *Worker) count(useCase, outcome string) {
	if w.reqCounter != nil {
		w.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
	}
}

func (w *Worker) observe(useCase string, outcome string, latencySeconds float64) {
	w.count(useCase, outcome)
	if w.durHistogram != nil {
		w.durHistogram.Observe(latencySeconds,
			observability.L("use_case", useCase),
		)
	}
}

// LogNotifier writes notices to the log; it is the sink when no mail transport is configured.
type LogNotifier struct {
	Log observability.Logger
}

func (n LogNotifier) Notify(ctx context.Context, notice Notice) error {
	logctx.FromOr(ctx, n.Log).Info("notification_sent",
		observability.F("audience", notice.Audience),
		observability.F("to", notice.To),
		observability.F("subject", notice.Subject),
	)
	return nil
}
