package prometrics

import (
	"testing"

	"github.com/farmstand/storefront/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegisterer(reg, "", "")

	c1 := r.Counter("stock_mutations_total", "help", "change_type", "source")
	c2 := r.Counter("stock_mutations_total", "help", "change_type", "source")

	c1.Add(1, observability.L("change_type", "order_deduct"), observability.L("source", "checkout"))
	c2.Add(2, observability.L("source", "checkout"), observability.L("change_type", "order_deduct"))

	n, err := testutil.GatherAndCount(reg, "stock_mutations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	vec, _ := r.(*registry).counters.Load("stock_mutations_total")
	assert.InDelta(t, 3, testutil.ToFloat64(vec.(*prometheus.CounterVec).WithLabelValues("order_deduct", "checkout")), 0.001)
}

func TestMismatchedLabelsAreDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegisterer(reg, "", "")
	c := r.Counter("outbox_dispatch_total", "help", "topic", "outcome")

	assert.NotPanics(t, func() { c.Add(1, observability.L("unexpected", "x")) })
}

func TestInstrumentsCoverCatalog(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters, histograms := Instruments(NewWithRegisterer(reg, "", ""))

	assert.Len(t, counters, 6)
	assert.Len(t, histograms, 3)
	for _, def := range observability.Catalog {
		switch def.Kind {
		case observability.KindCounter:
			assert.Contains(t, counters, def.Key)
		case observability.KindHistogram:
			assert.Contains(t, histograms, def.Key)
		}
	}

	histograms[observability.MHTTPRequestDuration].Observe(0.2,
		observability.L("method", "GET"), observability.L("route", "/api/products"), observability.L("status", "200"))
	n, err := testutil.GatherAndCount(reg, string(observability.MHTTPRequestDuration))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
