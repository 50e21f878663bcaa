package logctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/farmstand/storefront/internal/observability"
)

type recLogger struct {
	fields []observability.Field
}

func (l *recLogger) Debug(string, ...observability.Field) {}
func (l *recLogger) Info(string, ...observability.Field)  {}
func (l *recLogger) Warn(string, ...observability.Field)  {}
func (l *recLogger) Error(string, ...observability.Field) {}
func (l *recLogger) With(fields ...observability.Field) observability.Logger {
	return &recLogger{fields: append(append([]observability.Field(nil), l.fields...), fields...)}
}

func keys(l observability.Logger) map[string]any {
	out := map[string]any{}
	for _, f := range l.(*recLogger).fields {
		out[f.Key] = f.Value
	}
	return out
}

func spanCtx(t *testing.T) context.Context {
	t.Helper()
	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTraceFieldsWithoutSpan(t *testing.T) {
	assert.Empty(t, TraceFields(context.Background()))
}

func TestScopedAddsTraceIDsAndStoresLogger(t *testing.T) {
	base := &recLogger{}
	ctx, logger := Scoped(spanCtx(t), base, observability.F("use_case", "checkout"))

	got := keys(logger)
	assert.Equal(t, "checkout", got["use_case"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", got["span_id"])
	assert.Same(t, logger, From(ctx))
}

func TestScopedBuildsOnContextLogger(t *testing.T) {
	parent := (&recLogger{}).With(observability.F("request_id", "r-1"))
	ctx := With(context.Background(), parent)

	_, logger := Scoped(ctx, &recLogger{}, observability.F("use_case", "sweep"))
	got := keys(logger)
	assert.Equal(t, "r-1", got["request_id"])
	assert.Equal(t, "sweep", got["use_case"])
	assert.NotContains(t, got, "trace_id")
}

func TestFromOrFallsBackToNop(t *testing.T) {
	assert.NotNil(t, FromOr(context.Background(), nil))
}
