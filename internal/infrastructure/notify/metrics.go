package notify

import (
	"time"

	"github.com/farmstand/storefront/internal/observability"
)

// externalCalls records external_requests_total{peer,endpoint,outcome} for a broker.
type externalCalls struct {
	peer     string
	requests observability.Counter
	duration observability.Histogram
}

func newExternalCalls(tel observability.Observability, peer string) externalCalls {
	return externalCalls{
		peer:     peer,
		requests: tel.Metrics().Counter(observability.MExternalRequests),
		duration: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

func (c externalCalls) observe(endpoint string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.requests.Add(1,
		observability.L("peer", c.peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	c.duration.Observe(time.Since(start).Seconds(),
		observability.L("peer", c.peer),
		observability.L("endpoint", endpoint),
	)
}
