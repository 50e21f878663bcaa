package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/farmstand/storefront/internal/infrastructure/observability/prometrics"
	"github.com/farmstand/storefront/internal/observability"
)

type countingCounter struct{ n float64 }

func (c *countingCounter) Add(d float64, _ ...observability.Label) { c.n += d }

func TestProviderFallsBackToNop(t *testing.T) {
	p := New(nil, nil, nil, nil)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Logger())
	assert.NotPanics(t, func() {
		p.Metrics().Counter(observability.MUsecaseRequests).Add(1)
		p.Metrics().Histogram(observability.MUsecaseDuration).Observe(0.1)
	})
	assert.Len(t, p.Unregistered(), len(observability.Catalog))
}

func TestProviderReturnsRegisteredInstrument(t *testing.T) {
	c := &countingCounter{}
	p := New(nil, nil, map[observability.MetricKey]observability.Counter{
		observability.MWebhookEvents:  c,
		observability.MOutboxDispatch: nil,
	}, nil)

	p.Metrics().Counter(observability.MWebhookEvents).Add(2)
	p.Metrics().Counter(observability.MOutboxDispatch).Add(5)

	assert.InDelta(t, 2, c.n, 0.001)
	assert.Contains(t, p.Unregistered(), observability.MOutboxDispatch)
	assert.NotContains(t, p.Unregistered(), observability.MWebhookEvents)
}

func TestWrongKindIsUnregistered(t *testing.T) {
	c := &countingCounter{}
	p := New(nil, nil, map[observability.MetricKey]observability.Counter{observability.MUsecaseDuration: c}, nil)

	p.Metrics().Histogram(observability.MUsecaseDuration).Observe(3)

	assert.Zero(t, c.n)
	assert.Contains(t, p.Unregistered(), observability.MUsecaseDuration)
}

func TestPrometheusInstrumentsCoverCatalog(t *testing.T) {
	counters, histograms := prometrics.Instruments(prometrics.NewWithRegisterer(prometheus.NewRegistry(), "", ""))
	p := New(nil, nil, counters, histograms)

	assert.Empty(t, p.Unregistered())
}
