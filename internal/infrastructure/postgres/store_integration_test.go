//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appinventory "github.com/farmstand/storefront/internal/application/inventory"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	domcustomer "github.com/farmstand/storefront/internal/domain/customer"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	dompayment "github.com/farmstand/storefront/internal/domain/payment"
	"github.com/farmstand/storefront/internal/infrastructure/id"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setup(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("storefront"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	url, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrations are re-runnable")
	return s
}

func eggs(stock int) *domcatalog.Product {
	return &domcatalog.Product{
		ID: "p-eggs", Slug: "eggs", Name: "Eggs", Price: decimal.RequireFromString("8.00"),
		Unit: "dozen", StockQuantity: stock, LowStockThreshold: 0,
	}
}

func TestStoreIntegration(t *testing.T) {
	s := setup(t)
	repos := s.Repositories()
	ctx := context.Background()
	stock := appinventory.NewStockService(s, repos.Products, repos.Reservations, repos.Ledger, repos.Outbox, id.NewUUIDGenerator(), nil)

	t.Run("concurrent reservations never oversell", func(t *testing.T) {
		require.NoError(t, repos.Products.Insert(ctx, eggs(1)))

		const buyers = 10
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			rejected  int
		)
		for i := 0; i < buyers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				orderID := "order-" + string(rune('a'+i))
				err := s.WithinTx(ctx, func(ctx context.Context) error {
					_, err := stock.Reserve(ctx, orderID, []appinventory.Line{{ProductID: "p-eggs", Quantity: 1}}, time.Now().Add(time.Hour))
					return err
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, domcatalog.ErrInsufficientStock):
					rejected++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, buyers-1, rejected)
		p, err := repos.Products.Get(ctx, "p-eggs")
		require.NoError(t, err)
		assert.Equal(t, 1, p.ReservedQuantity)
	})

	t.Run("check constraint rejects negative stock", func(t *testing.T) {
		p, err := repos.Products.Get(ctx, "p-eggs")
		require.NoError(t, err)
		p.StockQuantity = -1
		p.ReservedQuantity = 0
		assert.ErrorIs(t, repos.Products.Update(ctx, p), domcatalog.ErrNegativeStock)
	})

	t.Run("orders round trip with items and sequence numbers", func(t *testing.T) {
		first, err := repos.Orders.NextOrderNumber(ctx)
		require.NoError(t, err)
		second, err := repos.Orders.NextOrderNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, first+1, second)

		cust, err := repos.Customers.Upsert(ctx, domcustomer.New("c1", "Jane@Example.com ", "Jane Doe", "555"))
		require.NoError(t, err)
		again, err := repos.Customers.Upsert(ctx, domcustomer.New("c2", "jane@example.com", "Jane Q Doe", ""))
		require.NoError(t, err)
		assert.Equal(t, cust.ID, again.ID)
		assert.Equal(t, 2, again.OrderCount)
		assert.Equal(t, "555", again.Phone)
		assert.Equal(t, "Q Doe", again.LastName)

		item, err := domorder.NewItem("i1", "p-eggs", "Eggs", decimal.RequireFromString("8.00"), 2, false)
		require.NoError(t, err)
		o, err := domorder.New(domorder.Params{
			ID: "o1", OrderNumber: domorder.FormatNumber("BR", 2026, first), CustomerID: cust.ID,
			CustomerName: "Jane Doe", CustomerEmail: "jane@example.com",
			DeliveryMethod: domorder.DeliveryPickup, Items: []domorder.Item{item},
			DeliveryFee: decimal.NewFromInt(5), TaxRate: decimal.Zero,
		})
		require.NoError(t, err)
		require.NoError(t, repos.Orders.Insert(ctx, o))
		assert.ErrorIs(t, repos.Orders.Insert(ctx, o), domorder.ErrConflict)

		o.AttachSession("cs_1")
		require.NoError(t, repos.Orders.Update(ctx, o))

		got, err := repos.Orders.GetBySessionID(ctx, "cs_1")
		require.NoError(t, err)
		assert.Equal(t, "16", got.Total.String())
		require.Len(t, got.Items, 1)
		assert.Equal(t, 2, got.Items[0].Quantity)

		list, err := repos.Orders.List(ctx, domorder.ListFilter{Status: domorder.StatusPending, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("ledger lists newest first", func(t *testing.T) {
		_, err := stock.Set(ctx, "p-eggs", 24, dominv.SourceLivestockSync, "")
		require.NoError(t, err)
		_, err = stock.Adjust(ctx, "p-eggs", -2, dominv.SourceAdmin, "broken")
		require.NoError(t, err)

		entries, err := repos.Ledger.List(ctx, dominv.Filter{ProductID: "p-eggs", Limit: 2})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, dominv.ChangeManualAdjust, entries[0].ChangeType)
		assert.Equal(t, 24, entries[0].PreviousQty)
		assert.Equal(t, 22, entries[0].NewQty)
	})

	t.Run("processed events are recorded once", func(t *testing.T) {
		first, err := repos.Events.Record(ctx, "evt_1", dompayment.EventCheckoutCompleted)
		require.NoError(t, err)
		dup, err := repos.Events.Record(ctx, "evt_1", dompayment.EventCheckoutCompleted)
		require.NoError(t, err)
		assert.True(t, first)
		assert.False(t, dup)
	})

	t.Run("outbox claim, retry and send", func(t *testing.T) {
		msg, err := domoutbox.NewMessage("m1", "o1", domorder.StockShortfallEvent{OrderID: "o1"})
		require.NoError(t, err)
		require.NoError(t, repos.Outbox.Enqueue(ctx, msg))

		now := time.Now().UTC().Add(time.Second)
		claimed, err := repos.Outbox.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		again, err := repos.Outbox.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, again, "in-progress messages are not handed out twice")

		require.NoError(t, repos.Outbox.MarkFailed(ctx, "m1", "broker down", now.Add(time.Minute), false))
		claimed, err = repos.Outbox.ClaimDue(ctx, now.Add(2*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, 1, claimed[0].Attempts)
		assert.JSONEq(t, string(msg.Payload), string(claimed[0].Payload))

		require.NoError(t, repos.Outbox.MarkSent(ctx, []string{"m1"}))
		claimed, err = repos.Outbox.ClaimDue(ctx, now.Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("nested transactions roll back together", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.WithinTx(ctx, func(ctx context.Context) error {
			require.NoError(t, repos.Settings.Set(ctx, "delivery_fee", "7"))
			return s.WithinTx(ctx, func(context.Context) error { return boom })
		})
		assert.ErrorIs(t, err, boom)
		_, err = repos.Settings.Get(ctx, "delivery_fee")
		assert.Error(t, err)
	})
}
