package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/farmstand/storefront/internal/application"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	"github.com/farmstand/storefront/internal/observability"
)

// Sweeper cancels pending orders whose reservation outlived the payment session and returns
// their stock. It covers expiry webhooks that never arrive.
type Sweeper struct {
	tx           application.Transactor
	reservations domcatalog.ReservationRepository
	orders       domorder.Repository
	stock        *StockService

	interval time.Duration
	grace    time.Duration
	batch    int
	now      func() time.Time

	inst application.Instruments
}

func NewSweeper(
	tx application.Transactor,
	reservations domcatalog.ReservationRepository,
	orders domorder.Repository,
	stock *StockService,
	interval, grace time.Duration,
	tel observability.Observability,
) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		tx:           tx,
		reservations: reservations,
		orders:       orders,
		stock:        stock,
		interval:     interval,
		grace:        grace,
		batch:        100,
		now:          time.Now,
		inst:         application.NewInstruments(tel, "reservation-sweeper"),
	}
}

func (w *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			w.inst.Log.Info("reservation_sweeper_stopped")
			return nil
		case <-t.C:
			if _, err := w.SweepOnce(ctx); err != nil {
				w.inst.Log.Error("reservation_sweep_failed", observability.F("error", err))
			}
		}
	}
}

// SweepOnce processes one batch and reports how many orders were cancelled.
func (w *Sweeper) SweepOnce(ctx context.Context) (cancelled int, err error) {
	ctx, run := w.inst.Start(ctx, "inventory.sweep_reservations", "SweepReservations")
	defer func() {
		run.Field("cancelled", cancelled)
		run.End(err)
	}()

	ids, err := w.reservations.ExpiredOrders(ctx, w.now().Add(-w.grace), w.batch)
	if err != nil {
		run.Fail("LIST_EXPIRED_FAILED")
		return 0, err
	}
	for _, id := range ids {
		didCancel, serr := w.expire(ctx, id)
		if serr != nil {
			run.Logger.Warn("reservation_expire_failed",
				observability.F("order_id", id),
				observability.F("error", serr),
			)
			continue
		}
		if didCancel {
			cancelled++
		}
	}
	return cancelled, nil
}

func (w *Sweeper) expire(ctx context.Context, orderID string) (bool, error) {
	cancelled := false
	err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := w.orders.Lock(ctx, orderID)
		switch {
		case errors.Is(err, domorder.ErrNotFound):
		case err != nil:
			return err
		case o.IsPending():
			if err := o.Cancel(); err != nil {
				return err
			}
			o.RecordIssue("payment session expired")
			if err := w.orders.Update(ctx, o); err != nil {
				return err
			}
			cancelled = true
		}
		return w.stock.Release(ctx, orderID)
	})
	return cancelled, err
}
