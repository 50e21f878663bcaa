package application

import (
	"context"
	"time"

	"github.com/farmstand/storefront/internal/observability"
	"github.com/farmstand/storefront/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const spanPrefix = "UC."

// Instruments holds the RED metrics and base logger shared by a service's use cases.
type Instruments struct {
	Log    observability.Logger
	Tracer observability.Tracer

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewInstruments(tel observability.Observability, service string) Instruments {
	tel = observability.OrNop(tel)
	return Instruments{
		Log:          tel.Logger().With(observability.F("service", service)),
		Tracer:       tel.Tracer(),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

// Run tracks one use case execution from Start to End.
type Run struct {
	inst    Instruments
	useCase string
	span    trace.Span
	start   time.Time
	Logger  observability.Logger

	outcome string
	status  string
	fields  []observability.Field
}

// Start opens the span and binds a request-scoped logger to the returned context.
func (i Instruments) Start(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *Run) {
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := i.Tracer.Start(ctx, spanPrefix+spanName, attrs...)

	ctx, logger := logctx.Scoped(ctx, i.Log, observability.F("use_case", useCase))

	return ctx, &Run{
		inst:    i,
		useCase: useCase,
		span:    span,
		start:   time.Now(),
		Logger:  logger,
		outcome: "success",
		status:  "OK",
	}
}

// Fail marks the run as failed with a machine-readable status.
func (r *Run) Fail(status string) {
	r.outcome, r.status = "error", status
}

// Status overrides the status text without changing the outcome.
func (r *Run) Status(status string) {
	r.status = status
}

func (r *Run) Field(k string, v any) {
	r.fields = append(r.fields, observability.F(k, v))
}

func (r *Run) Span() trace.Span { return r.span }

// End records metrics, closes the span and writes the use_case_done line.
func (r *Run) End(err error) {
	if err != nil && r.outcome == "success" {
		r.outcome, r.status = "error", "ERROR"
	}
	lat := time.Since(r.start).Seconds()

	if r.span != nil {
		if err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, r.status)
		} else {
			r.span.SetStatus(codes.Ok, r.status)
		}
		r.span.End()
	}

	if r.inst.reqCounter != nil {
		r.inst.reqCounter.Add(1,
			observability.L("use_case", r.useCase),
			observability.L("outcome", r.outcome),
		)
	}
	if r.inst.durHistogram != nil {
		r.inst.durHistogram.Observe(lat,
			observability.L("use_case", r.useCase),
		)
	}

	fields := append([]observability.Field{
		observability.F("outcome", r.outcome),
		observability.F("status", r.status),
		observability.F("latency_seconds", lat),
	}, r.fields...)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	r.Logger.Info("use_case_done", fields...)
}
