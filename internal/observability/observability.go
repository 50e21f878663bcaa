// Package observability holds the ports storefront code logs, traces and counts through.
// Adapters live under internal/infrastructure/observability.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Observability interface {
	Tracer() Tracer
	Logger() Logger
	Metrics() Metrics
}

type Tracer interface {
	Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
}

type Logger interface {
	With(fields ...Field) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Metrics hands out instruments by key. Unknown keys get an instrument that drops samples.
type Metrics interface {
	Counter(key MetricKey) Counter
	Histogram(key MetricKey) Histogram
}

type Counter interface {
	Add(delta float64, labels ...Label)
}

type Histogram interface {
	Observe(value float64, labels ...Label)
}

type Field struct {
	Key   string
	Value any
}

func F(k string, v any) Field { return Field{Key: k, Value: v} }

type Label struct{ Key, Value string }

func L(k, v string) Label { return Label{Key: k, Value: v} }

type MetricKey string

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MStockMutations          MetricKey = "stock_mutations_total"
	MOutboxDispatch          MetricKey = "outbox_dispatch_total"
	MWebhookEvents           MetricKey = "webhook_events_total"
)

type MetricKind int

const (
	KindCounter MetricKind = iota
	KindHistogram
)

// MetricDef describes one storefront metric. Callers must pass exactly Labels, in any order.
type MetricDef struct {
	Key    MetricKey
	Kind   MetricKind
	Help   string
	Labels []string
}

// Catalog is every metric the storefront emits. Adapters register from it.
var Catalog = []MetricDef{
	{MUsecaseRequests, KindCounter, "Total number of use case invocations.", []string{"use_case", "outcome"}},
	{MUsecaseDuration, KindHistogram, "Duration of use case execution in seconds.", []string{"use_case"}},
	{MHTTPRequests, KindCounter, "Total number of HTTP requests.", []string{"method", "route", "status"}},
	{MHTTPRequestDuration, KindHistogram, "Duration of HTTP requests in seconds.", []string{"method", "route", "status"}},
	{MExternalRequests, KindCounter, "Calls to external peers (payment gateway, brokers).", []string{"peer", "endpoint", "outcome"}},
	{MExternalRequestDuration, KindHistogram, "Duration of external calls in seconds.", []string{"peer", "endpoint"}},
	{MStockMutations, KindCounter, "Stock changes written to the inventory ledger.", []string{"change_type", "source"}},
	{MOutboxDispatch, KindCounter, "Outbox messages dispatched by topic and outcome.", []string{"topic", "outcome"}},
	{MWebhookEvents, KindCounter, "Payment webhook events by type and outcome.", []string{"event_type", "outcome"}},
}

// OrNop returns o, or Nop when o is nil.
func OrNop(o Observability) Observability {
	if o == nil {
		return Nop()
	}
	return o
}
