package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domorder "github.com/farmstand/storefront/internal/domain/order"
	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	"github.com/farmstand/storefront/internal/infrastructure/memory"
	"github.com/farmstand/storefront/internal/infrastructure/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	got  []string
	fail map[string]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, m domoutbox.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail[m.ID]; err != nil {
		return err
	}
	d.got = append(d.got, m.ID)
	return nil
}

func enqueue(t *testing.T, store *memory.OutboxStore, id string) {
	t.Helper()
	msg, err := domoutbox.NewMessage(id, "order-"+id, domorder.StockShortfallEvent{OrderID: "order-" + id})
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(context.Background(), msg))
}

func statusOf(t *testing.T, store *memory.OutboxStore, id string) domoutbox.Message {
	t.Helper()
	for _, m := range store.Messages(context.Background()) {
		if m.ID == id {
			return m
		}
	}
	t.Fatalf("message %s not found", id)
	return domoutbox.Message{}
}

func TestRelaySendsDueMessages(t *testing.T) {
	store := memory.NewStore().Repositories().Outbox
	enqueue(t, store, "m1")
	enqueue(t, store, "m2")
	d := &recordingDispatcher{}
	relay := NewRelay(store, d, RelayConfig{}, nil)

	sent, failed, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Zero(t, failed)
	assert.Equal(t, []string{"m1", "m2"}, d.got)
	assert.Equal(t, domoutbox.StatusSent, statusOf(t, store, "m1").Status)

	sent, _, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestRelayRetriesWithBackoffThenGivesUp(t *testing.T) {
	store := memory.NewStore().Repositories().Outbox
	enqueue(t, store, "m1")
	d := &recordingDispatcher{fail: map[string]error{"m1": errors.New("broker down")}}
	relay := NewRelay(store, d, RelayConfig{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute}, nil)

	clock := time.Now().UTC().Add(time.Minute)
	relay.now = func() time.Time { return clock }

	_, failed, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	m := statusOf(t, store, "m1")
	assert.Equal(t, domoutbox.StatusPending, m.Status)
	assert.Equal(t, 1, m.Attempts)
	assert.Equal(t, "broker down", m.LastError)
	assert.Equal(t, clock.Add(time.Second), m.NextAttemptAt)

	// not yet due
	_, failed, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)

	clock = clock.Add(time.Second)
	_, _, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	m = statusOf(t, store, "m1")
	assert.Equal(t, 2, m.Attempts)
	assert.Equal(t, clock.Add(2*time.Second), m.NextAttemptAt)

	clock = clock.Add(2 * time.Second)
	_, _, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domoutbox.StatusFailed, statusOf(t, store, "m1").Status)
}

func TestRelayBatchIsolatesFailures(t *testing.T) {
	store := memory.NewStore().Repositories().Outbox
	enqueue(t, store, "ok")
	enqueue(t, store, "bad")
	d := &recordingDispatcher{fail: map[string]error{"bad": errors.New("boom")}}

	sent, failed, err := NewRelay(store, d, RelayConfig{}, nil).RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, failed)
	assert.Equal(t, domoutbox.StatusSent, statusOf(t, store, "ok").Status)
	assert.Equal(t, domoutbox.StatusPending, statusOf(t, store, "bad").Status)
}

type failingMarkStore struct {
	*memory.OutboxStore
}

func (failingMarkStore) MarkFailed(context.Context, string, string, time.Time, bool) error {
	return errors.New("connection reset")
}

func TestRelaySettlesDeliveredMessagesWhenMarkFailedErrors(t *testing.T) {
	mem := memory.NewStore().Repositories().Outbox
	enqueue(t, mem, "ok")
	enqueue(t, mem, "bad")
	enqueue(t, mem, "later")
	d := &recordingDispatcher{fail: map[string]error{"bad": errors.New("boom")}}

	sent, failed, err := NewRelay(failingMarkStore{mem}, d, RelayConfig{}, nil).RelayOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, failed)
	assert.Equal(t, domoutbox.StatusSent, statusOf(t, mem, "ok").Status)
	assert.Equal(t, []string{"ok"}, d.got, "batch stops at the failed bookkeeping")
}

type countingNotifier struct {
	calls int
	err   error
}

func (n *countingNotifier) Notify(context.Context, Notice) error {
	n.calls++
	return n.err
}

func TestRelayThroughBusRetriesFailedNotifications(t *testing.T) {
	store := memory.NewStore().Repositories().Outbox
	enqueue(t, store, "m1")

	bus := outbox.NewBus(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())
	notifier := &countingNotifier{err: errors.New("smtp down")}
	NewWorker(notifier, "farm@example.com", nil).Start(bus)

	relay := NewRelay(store, bus, RelayConfig{BaseBackoff: time.Second}, nil)
	clock := time.Now().UTC().Add(time.Minute)
	relay.now = func() time.Time { return clock }

	sent, failed, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 1, failed)
	m := statusOf(t, store, "m1")
	assert.Equal(t, domoutbox.StatusPending, m.Status)
	assert.Equal(t, 1, m.Attempts)
	assert.Contains(t, m.LastError, "smtp down")
	assert.Equal(t, 1, notifier.calls)

	notifier.err = nil
	clock = clock.Add(time.Second)
	sent, failed, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Zero(t, failed)
	assert.Equal(t, domoutbox.StatusSent, statusOf(t, store, "m1").Status)
	assert.Equal(t, 2, notifier.calls)
}

func TestBackoffIsCapped(t *testing.T) {
	r := NewRelay(nil, nil, RelayConfig{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}, nil)

	assert.Equal(t, time.Second, r.backoff(1))
	assert.Equal(t, 4*time.Second, r.backoff(3))
	assert.Equal(t, 10*time.Second, r.backoff(9))
}
