package notification

import (
	"context"
	"errors"
	"time"

	"github.com/farmstand/storefront/internal/application"
	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	"github.com/farmstand/storefront/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	relayService = "outbox-relay"
	useCaseRelay = "outbox.relay"
)

// Dispatcher hands one outbox message to a transport (bus, Kafka, RabbitMQ).
type Dispatcher interface {
	Dispatch(ctx context.Context, m domoutbox.Message) error
}

type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Minute
	}
	return c
}

// Relay drains the outbox: claim due messages, dispatch, then mark sent or schedule a retry.
// Delivery is at-least-once; consumers key on the message id.
type Relay struct {
	store      domoutbox.Store
	dispatcher Dispatcher
	cfg        RelayConfig
	now        func() time.Time

	inst     application.Instruments
	dispatch observability.Counter // outbox_dispatch_total{topic,outcome}
}

func NewRelay(store domoutbox.Store, dispatcher Dispatcher, cfg RelayConfig, tel observability.Observability) *Relay {
	tel = observability.OrNop(tel)
	return &Relay{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		inst:       application.NewInstruments(tel, relayService),
		dispatch:   tel.Metrics().Counter(observability.MOutboxDispatch),
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := r.RelayOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.inst.Log.Warn("outbox_relay_failed", observability.F("error", err.Error()))
			}
		}
	}
}

// RelayOnce processes a single batch and reports how many messages were sent and failed.
func (r *Relay) RelayOnce(ctx context.Context) (sent, failed int, err error) {
	msgs, err := r.store.ClaimDue(ctx, r.now().UTC(), r.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(msgs) == 0 {
		return 0, 0, nil
	}

	ctx, run := r.inst.Start(ctx, useCaseRelay, "RelayOutbox", attribute.Int("outbox.batch", len(msgs)))
	defer func() { run.End(err) }()

	var delivered []string
	for _, m := range msgs {
		derr := r.dispatcher.Dispatch(ctx, m)
		if derr == nil {
			delivered = append(delivered, m.ID)
			r.count(m.Topic, "sent")
			continue
		}
		failed++
		attempts := m.Attempts + 1
		dead := attempts >= r.cfg.MaxAttempts
		outcome := "retry"
		if dead {
			outcome = "dead"
		}
		r.count(m.Topic, outcome)
		run.Logger.Warn("outbox_dispatch_failed",
			observability.F("message_id", m.ID),
			observability.F("topic", m.Topic),
			observability.F("attempts", attempts),
			observability.F("dead", dead),
			observability.F("error", derr.Error()),
		)
		if err := r.store.MarkFailed(ctx, m.ID, derr.Error(), r.now().UTC().Add(r.backoff(attempts)), dead); err != nil {
			return r.markSent(ctx, delivered), failed, err
		}
	}
	if len(delivered) > 0 {
		if err := r.store.MarkSent(ctx, delivered); err != nil {
			return 0, failed, err
		}
	}
	run.Field("sent", len(delivered))
	run.Field("failed", failed)
	if failed > 0 {
		run.Status("PARTIAL")
	}
	return len(delivered), failed, nil
}

// markSent settles messages already handed to the dispatcher when the batch aborts early,
// so they are not left in_progress. It reports how many were recorded as sent.
func (r *Relay) markSent(ctx context.Context, ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	if err := r.store.MarkSent(ctx, ids); err != nil {
		r.inst.Log.Warn("outbox_mark_sent_failed",
			observability.F("messages", len(ids)),
			observability.F("error", err.Error()),
		)
		return 0
	}
	return len(ids)
}

// backoff doubles from BaseBackoff per attempt, capped at MaxBackoff.
func (r *Relay) backoff(attempts int) time.Duration {
	d := r.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return d
}

func (r *Relay) count(topic, outcome string) {
	if r.dispatch != nil {
		r.dispatch.Add(1,
			observability.L("topic", topic),
			observability.L("outcome", outcome),
		)
	}
}
