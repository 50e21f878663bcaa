package logctx

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/farmstand/storefront/internal/observability"
)

type loggerKey struct{}

// With stores the provided logger on the context for request-scoped logging.
func With(ctx context.Context, logger observability.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// From retrieves a logger from the context if present.
func From(ctx context.Context) observability.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey{}).(observability.Logger)
	return logger
}

// FromOr returns the context logger when available, otherwise falls back to the supplied logger.
func FromOr(ctx context.Context, fallback observability.Logger) observability.Logger {
	if logger := From(ctx); logger != nil {
		return logger
	}
	if fallback == nil {
		return observability.NopLogger()
	}
	return fallback
}

// TraceFields returns trace_id and span_id for the span on ctx, or nothing when there is none.
func TraceFields(ctx context.Context) []observability.Field {
	if ctx == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []observability.Field{
		observability.F("trace_id", sc.TraceID().String()),
		observability.F("span_id", sc.SpanID().String()),
	}
}

// Scoped derives a logger from the one on ctx (or fallback), adds fields plus the current
// span ids, and stores it back so everything below the span logs with the same correlation.
func Scoped(ctx context.Context, fallback observability.Logger, fields ...observability.Field) (context.Context, observability.Logger) {
	all := append(append([]observability.Field(nil), fields...), TraceFields(ctx)...)
	logger := FromOr(ctx, fallback)
	if len(all) > 0 {
		logger = logger.With(all...)
	}
	return With(ctx, logger), logger
}
