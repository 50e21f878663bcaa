// Package observability assembles the storefront's tracer, logger and metric instruments
// into one observability.Observability.
package observability

import (
	"github.com/farmstand/storefront/internal/observability"
)

// Provider serves instruments registered against observability.Catalog. A key with no
// instrument, or asked for as the wrong kind, gets a nop so callers never nil-check.
type Provider struct {
	tracer     observability.Tracer
	logger     observability.Logger
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func New(
	tracer observability.Tracer,
	logger observability.Logger,
	counters map[observability.MetricKey]observability.Counter,
	histograms map[observability.MetricKey]observability.Histogram,
) *Provider {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	p := &Provider{
		tracer:     tracer,
		logger:     logger,
		counters:   make(map[observability.MetricKey]observability.Counter, len(counters)),
		histograms: make(map[observability.MetricKey]observability.Histogram, len(histograms)),
	}
	for k, c := range counters {
		if c != nil {
			p.counters[k] = c
		}
	}
	for k, h := range histograms {
		if h != nil {
			p.histograms[k] = h
		}
	}
	return p
}

func (p *Provider) Tracer() observability.Tracer   { return p.tracer }
func (p *Provider) Logger() observability.Logger   { return p.logger }
func (p *Provider) Metrics() observability.Metrics { return p }

func (p *Provider) Counter(key observability.MetricKey) observability.Counter {
	if c, ok := p.counters[key]; ok {
		return c
	}
	return observability.NopCounter()
}

func (p *Provider) Histogram(key observability.MetricKey) observability.Histogram {
	if h, ok := p.histograms[key]; ok {
		return h
	}
	return observability.NopHistogram()
}

// Unregistered lists catalogue metrics that have no instrument of the right kind. Samples
// for them are silently dropped, so startup logs the list.
func (p *Provider) Unregistered() []observability.MetricKey {
	var out []observability.MetricKey
	for _, def := range observability.Catalog {
		var ok bool
		switch def.Kind {
		case observability.KindCounter:
			_, ok = p.counters[def.Key]
		case observability.KindHistogram:
			_, ok = p.histograms[def.Key]
		}
		if !ok {
			out = append(out, def.Key)
		}
	}
	return out
}
