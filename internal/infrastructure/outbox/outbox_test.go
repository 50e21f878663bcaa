package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFansOutToEverySubscriber(t *testing.T) {
	bus := NewBus(nil, WithConcurrency(2))
	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	wg.Add(2)
	record := func(tag string) domoutbox.Handler {
		return func(_ context.Context, e domoutbox.Event) error {
			defer wg.Done()
			mu.Lock()
			got = append(got, tag+":"+e.(domoutbox.Message).ID)
			mu.Unlock()
			return nil
		}
	}
	bus.Subscribe("order.paid", record("a"))
	bus.Subscribe("order.paid", record("b"))
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	require.NoError(t, bus.Dispatch(context.Background(), domoutbox.Message{ID: "m1", Topic: "order.paid"}))
	wg.Wait()

	assert.ElementsMatch(t, []string{"a:m1", "b:m1"}, got)
}

func TestBusSurvivesHandlerPanic(t *testing.T) {
	bus := NewBus(nil)
	done := make(chan struct{})
	bus.Subscribe("boom", func(context.Context, domoutbox.Event) error { panic("bad handler") })
	bus.Subscribe("ok", func(context.Context, domoutbox.Event) error {
		close(done)
		return errors.New("handler errors are only logged")
	})
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	require.NoError(t, bus.Publish(context.Background(), domoutbox.Message{Topic: "boom"}))
	require.NoError(t, bus.Publish(context.Background(), domoutbox.Message{Topic: "ok"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second event was not delivered")
	}
}

func TestDispatchReturnsHandlerErrors(t *testing.T) {
	bus := NewBus(nil)
	bus.Start(context.Background())
	smtp := errors.New("smtp down")
	calls := 0
	bus.Subscribe("order.paid", func(context.Context, domoutbox.Event) error { calls++; return smtp })
	bus.Subscribe("low_stock", func(context.Context, domoutbox.Event) error { panic("bad handler") })

	err := bus.Dispatch(context.Background(), domoutbox.Message{ID: "m1", Topic: "order.paid"})
	assert.ErrorIs(t, err, smtp)
	assert.Equal(t, 1, calls, "dispatch runs handlers before returning")

	err = bus.Dispatch(context.Background(), domoutbox.Message{ID: "m2", Topic: "low_stock"})
	assert.ErrorContains(t, err, "panicked")

	assert.NoError(t, bus.Dispatch(context.Background(), domoutbox.Message{ID: "m3", Topic: "nobody.listens"}))

	bus.Stop(context.Background())
	assert.ErrorIs(t, bus.Dispatch(context.Background(), domoutbox.Message{Topic: "order.paid"}), ErrBusStopped)
}

func TestPublishAfterStop(t *testing.T) {
	bus := NewBus(nil)
	bus.Start(context.Background())
	bus.Stop(context.Background())

	err := bus.Publish(context.Background(), domoutbox.Message{Topic: "order.paid"})
	assert.ErrorIs(t, err, ErrBusStopped)
}

func TestPublishHonoursContextWhenQueueIsFull(t *testing.T) {
	bus := NewBus(nil, WithQueueSize(1))
	require.NoError(t, bus.Publish(context.Background(), domoutbox.Message{Topic: "x"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := bus.Publish(ctx, domoutbox.Message{Topic: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
