package workerpresentation

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	"github.com/farmstand/storefront/internal/observability"
	"github.com/farmstand/storefront/internal/observability/logctx"
)

// WithEventContext injects a request-scoped logger for background/worker executions.
// Dynamic fields only: trace_id/span_id (if valid), event_id (generated if empty),
// plus caller-provided low-cardinality attributes (e.g. "event", "aggregate_id").
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	tel observability.Observability,
	traceID trace.TraceID,
	spanID trace.SpanID,
	attrs map[string]string,
) context.Context {
	if base == nil {
		base = observability.OrNop(tel).Logger()
	}

	fields := make([]observability.Field, 0, 3+len(attrs))

	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields = append(fields, observability.F("event_id", evtID))

	if traceID.IsValid() {
		fields = append(fields, observability.F("trace_id", traceID.String()))
	}
	if spanID.IsValid() {
		fields = append(fields, observability.F("span_id", spanID.String()))
	}

	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}

	return logctx.With(ctx, base.With(fields...))
}

// Wrap runs h inside a consumer span with an event-scoped logger on the context.
// Outbox messages contribute their id and aggregate so a delivery can be traced back to its row.
func Wrap(eventName string, h domoutbox.Handler, base observability.Logger, tel observability.Observability) domoutbox.Handler {
	tel = observability.OrNop(tel)
	return func(ctx context.Context, e domoutbox.Event) error {
		attrs := map[string]string{"event": eventName}
		spanAttrs := []attribute.KeyValue{attribute.String("messaging.destination", eventName)}
		if m, ok := e.(domoutbox.Message); ok {
			attrs["event_id"] = m.ID
			attrs["aggregate_id"] = m.AggregateID
			spanAttrs = append(spanAttrs, attribute.String("messaging.message_id", m.ID))
		}

		ctx, span := tel.Tracer().Start(ctx, "consume "+eventName, spanAttrs...)
		defer span.End()

		sc := span.SpanContext()
		ctx = WithEventContext(ctx, base, tel, sc.TraceID(), sc.SpanID(), attrs)
		err := h(ctx, e)
		if err != nil {
			span.RecordError(err)
		}
		return err
	}
}

type subscriber struct {
	next domoutbox.Subscriber
	log  observability.Logger
	tel  observability.Observability
}

// Subscriber decorates next so every handler registered through it is wrapped with Wrap.
func Subscriber(next domoutbox.Subscriber, base observability.Logger, tel observability.Observability) domoutbox.Subscriber {
	return &subscriber{next: next, log: base, tel: tel}
}

func (s *subscriber) Subscribe(eventName string, h domoutbox.Handler) {
	s.next.Subscribe(eventName, Wrap(eventName, h, s.log, s.tel))
}
