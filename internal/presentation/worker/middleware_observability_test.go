package workerpresentation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	"github.com/farmstand/storefront/internal/observability"
	"github.com/farmstand/storefront/internal/observability/logctx"
)

type recordingLogger struct {
	mu     sync.Mutex
	fields []observability.Field
	lines  []string
}

func (l *recordingLogger) With(fields ...observability.Field) observability.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fields = append(l.fields, fields...)
	return l
}

func (l *recordingLogger) log(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, msg)
}

func (l *recordingLogger) Debug(msg string, _ ...observability.Field) { l.log(msg) }
func (l *recordingLogger) Info(msg string, _ ...observability.Field)  { l.log(msg) }
func (l *recordingLogger) Warn(msg string, _ ...observability.Field)  { l.log(msg) }
func (l *recordingLogger) Error(msg string, _ ...observability.Field) { l.log(msg) }

func (l *recordingLogger) field(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func TestWithEventContextGeneratesEventID(t *testing.T) {
	base := &recordingLogger{}
	ctx := WithEventContext(context.Background(), base, nil, trace.TraceID{}, trace.SpanID{}, map[string]string{"event": "order.paid", "tenant": ""})

	require.NotNil(t, logctx.From(ctx))
	id, ok := base.field("event_id")
	require.True(t, ok)
	assert.NotEmpty(t, id)
	_, ok = base.field("trace_id")
	assert.False(t, ok, "invalid trace ids are not logged")
	_, ok = base.field("tenant")
	assert.False(t, ok, "empty attributes are skipped")
}

type fakeSubscriber struct{ handlers map[string]domoutbox.Handler }

func (f *fakeSubscriber) Subscribe(name string, h domoutbox.Handler) { f.handlers[name] = h }

func TestSubscriberWrapsHandlers(t *testing.T) {
	base := &recordingLogger{}
	inner := &fakeSubscriber{handlers: map[string]domoutbox.Handler{}}
	boom := errors.New("smtp down")

	var seen observability.Logger
	Subscriber(inner, base, nil).Subscribe("order.paid", func(ctx context.Context, e domoutbox.Event) error {
		seen = logctx.From(ctx)
		return boom
	})

	h, ok := inner.handlers["order.paid"]
	require.True(t, ok)
	err := h(context.Background(), domoutbox.Message{ID: "m1", Topic: "order.paid", AggregateID: "o1"})

	assert.ErrorIs(t, err, boom)
	assert.NotNil(t, seen)
	id, _ := base.field("event_id")
	assert.Equal(t, "m1", id)
	agg, _ := base.field("aggregate_id")
	assert.Equal(t, "o1", agg)
}
