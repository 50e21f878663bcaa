package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/farmstand/storefront/internal/application"
	appinventory "github.com/farmstand/storefront/internal/application/inventory"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	dompayment "github.com/farmstand/storefront/internal/domain/payment"
	"github.com/farmstand/storefront/internal/infrastructure/cache"
	"github.com/farmstand/storefront/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() string { return fmt.Sprintf("id-%d", g.n.Add(1)) }

type fakeGateway struct {
	mu       sync.Mutex
	requests []dompayment.SessionRequest
	err      error
	during   func(req dompayment.SessionRequest)
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req dompayment.SessionRequest) (*dompayment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.during != nil {
		g.during(req)
	}
	if g.err != nil {
		return nil, g.err
	}
	id := fmt.Sprintf("cs_test_%d", len(g.requests))
	return &dompayment.Session{ID: id, URL: "https://pay.example/" + id}, nil
}

type harness struct {
	uc      *CreateSessionUseCase
	repos   memory.Repositories
	gateway *fakeGateway
}

func newHarness(t *testing.T, products ...*domcatalog.Product) harness {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	ctx := context.Background()
	for _, p := range products {
		require.NoError(t, repos.Products.Insert(ctx, p))
	}
	require.NoError(t, repos.Settings.Set(ctx, "delivery_fee", "5"))

	ids := &seqIDs{}
	stock := appinventory.NewStockService(store, repos.Products, repos.Reservations, repos.Ledger, repos.Outbox, ids, nil)
	gw := &fakeGateway{}
	uc := NewCreateSessionUseCase(store, stock, repos.Orders, repos.Orders, repos.Customers,
		cache.NewSettingsCache(repos.Settings, time.Minute), gw, ids,
		Config{Currency: "usd", BaseURL: "https://farm.example/", OrderNumberPrefix: "BR"}, nil)
	uc.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	return harness{uc: uc, repos: repos, gateway: gw}
}

func eggs(stock int) *domcatalog.Product {
	return &domcatalog.Product{ID: "p-eggs", Slug: "eggs", Name: "Eggs", Price: decimal.RequireFromString("8.00"), StockQuantity: stock, LowStockThreshold: 2}
}

func pickup(items ...ItemInput) Input {
	return Input{Items: items, CustomerName: "Jane Doe", CustomerEmail: "jane@example.com", DeliveryMethod: "pickup"}
}

func TestPickupCheckout(t *testing.T) {
	h := newHarness(t, eggs(24))
	ctx := context.Background()

	res, err := h.uc.Execute(ctx, pickup(ItemInput{ProductID: "p-eggs", Quantity: 2}))
	require.NoError(t, err)
	assert.Equal(t, "BR-2026-0001", res.OrderNumber)
	assert.Equal(t, "cs_test_1", res.SessionID)

	o, err := h.repos.Orders.GetByNumber(ctx, res.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPending, o.Status)
	assert.True(t, o.Subtotal.Equal(decimal.NewFromInt(16)))
	assert.True(t, o.DeliveryFee.IsZero())
	assert.True(t, o.Total.Equal(decimal.NewFromInt(16)))
	assert.Equal(t, "cs_test_1", o.PaymentSessionID)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Eggs", o.Items[0].ProductName)

	req := h.gateway.requests[0]
	assert.Equal(t, o.ID, req.OrderID)
	require.Len(t, req.LineItems, 1)
	assert.EqualValues(t, 800, req.LineItems[0].UnitAmount)
	assert.EqualValues(t, 2, req.LineItems[0].Quantity)
	assert.Equal(t, "https://farm.example/cart", req.CancelURL)

	p, _ := h.repos.Products.Get(ctx, "p-eggs")
	assert.Equal(t, 24, p.StockQuantity)
	assert.Equal(t, 2, p.ReservedQuantity)

	cust, err := h.repos.Customers.FindByEmail(ctx, "JANE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Jane", cust.FirstName)
	assert.Equal(t, "Doe", cust.LastName)
}

func TestDeliveryAddsFee(t *testing.T) {
	h := newHarness(t, eggs(24))
	in := pickup(ItemInput{ProductID: "p-eggs", Quantity: 2})
	in.DeliveryMethod = "delivery"
	in.Address = domorder.Address{Line1: "1 Farm Rd", City: "Brookfield", State: "VT", Zip: "05036"}

	res, err := h.uc.Execute(context.Background(), in)
	require.NoError(t, err)

	o, err := h.repos.Orders.GetByNumber(context.Background(), res.OrderNumber)
	require.NoError(t, err)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(21)))

	lines := h.gateway.requests[0].LineItems
	require.Len(t, lines, 2)
	assert.Equal(t, "Delivery", lines[1].Name)
	assert.EqualValues(t, 500, lines[1].UnitAmount)
}

func TestUnknownProductCreatesNoOrder(t *testing.T) {
	h := newHarness(t, eggs(24))

	_, err := h.uc.Execute(context.Background(), pickup(ItemInput{ProductID: "p-ghost", Quantity: 1}))
	var nf *domcatalog.NotFoundError
	require.ErrorAs(t, err, &nf)

	orders, _ := h.repos.Orders.List(context.Background(), domorder.ListFilter{})
	assert.Empty(t, orders)
	assert.Empty(t, h.gateway.requests)
}

func TestInsufficientStockCreatesNoOrder(t *testing.T) {
	h := newHarness(t, eggs(1))

	_, err := h.uc.Execute(context.Background(), pickup(ItemInput{ProductID: "p-eggs", Quantity: 3}))
	require.ErrorIs(t, err, domcatalog.ErrInsufficientStock)
	assert.Equal(t, "Insufficient stock for Eggs. Available: 1", err.Error())

	orders, _ := h.repos.Orders.List(context.Background(), domorder.ListFilter{})
	assert.Empty(t, orders)
	p, _ := h.repos.Products.Get(context.Background(), "p-eggs")
	assert.Equal(t, 1, p.StockQuantity)
	assert.Equal(t, 0, p.ReservedQuantity)
	cust, _ := h.repos.Customers.FindByEmail(context.Background(), "jane@example.com")
	assert.Nil(t, cust)
}

func TestGatewayFailureCompensates(t *testing.T) {
	h := newHarness(t, eggs(5))
	h.gateway.err = errors.New("stripe: 500")
	ctx := context.Background()

	_, err := h.uc.Execute(ctx, pickup(ItemInput{ProductID: "p-eggs", Quantity: 2}))
	require.ErrorIs(t, err, ErrPaymentUnavailable)

	orders, _ := h.repos.Orders.List(ctx, domorder.ListFilter{})
	require.Len(t, orders, 1)
	assert.Equal(t, domorder.StatusCancelled, orders[0].Status)

	p, _ := h.repos.Products.Get(ctx, "p-eggs")
	assert.Equal(t, 0, p.ReservedQuantity)
	held, _ := h.repos.Reservations.FindByOrder(ctx, orders[0].ID)
	assert.Empty(t, held)
}

func TestCancellationDuringSessionCreationIsKept(t *testing.T) {
	h := newHarness(t, eggs(24))
	ctx := context.Background()
	h.gateway.during = func(req dompayment.SessionRequest) {
		o, err := h.repos.Orders.Get(ctx, req.OrderID)
		require.NoError(t, err)
		require.NoError(t, o.Cancel())
		require.NoError(t, h.repos.Orders.Update(ctx, o))
	}

	_, err := h.uc.Execute(ctx, pickup(ItemInput{ProductID: "p-eggs", Quantity: 2}))
	require.ErrorIs(t, err, ErrOrderClosed)

	o, err := h.repos.Orders.GetByNumber(ctx, "BR-2026-0001")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusCancelled, o.Status)
	assert.Empty(t, o.PaymentSessionID)
}

func TestValidation(t *testing.T) {
	h := newHarness(t, eggs(5))
	tests := []struct {
		name string
		in   Input
	}{
		{"empty cart", pickup()},
		{"zero quantity", pickup(ItemInput{ProductID: "p-eggs", Quantity: 0})},
		{"too many", pickup(ItemInput{ProductID: "p-eggs", Quantity: 101})},
		{"merged too many", pickup(ItemInput{ProductID: "p-eggs", Quantity: 60}, ItemInput{ProductID: "p-eggs", Quantity: 41})},
		{"bad email", func() Input { in := pickup(ItemInput{ProductID: "p-eggs", Quantity: 1}); in.CustomerEmail = "nope"; return in }()},
		{"missing name", func() Input { in := pickup(ItemInput{ProductID: "p-eggs", Quantity: 1}); in.CustomerName = " "; return in }()},
		{"unknown method", func() Input { in := pickup(ItemInput{ProductID: "p-eggs", Quantity: 1}); in.DeliveryMethod = "drone"; return in }()},
		{"delivery without address", func() Input { in := pickup(ItemInput{ProductID: "p-eggs", Quantity: 1}); in.DeliveryMethod = "delivery"; return in }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.uc.Execute(context.Background(), tt.in)
			assert.ErrorIs(t, err, application.ErrValidation)
		})
	}
	assert.Empty(t, h.gateway.requests)
}

func TestDuplicateLinesAreMerged(t *testing.T) {
	h := newHarness(t, eggs(5))

	res, err := h.uc.Execute(context.Background(), pickup(
		ItemInput{ProductID: "p-eggs", Quantity: 1},
		ItemInput{ProductID: "p-eggs", Quantity: 2},
	))
	require.NoError(t, err)

	o, _ := h.repos.Orders.GetByNumber(context.Background(), res.OrderNumber)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 3, o.Items[0].Quantity)
}

func TestConcurrentCheckoutsForLastUnit(t *testing.T) {
	h := newHarness(t, eggs(1))
	const buyers = 10

	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.uc.Execute(context.Background(), pickup(ItemInput{ProductID: "p-eggs", Quantity: 1}))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domcatalog.ErrInsufficientStock):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, buyers-1, rejected.Load())
	assert.Len(t, h.gateway.requests, 1)
}

func TestOrderNumbersAreSequential(t *testing.T) {
	h := newHarness(t, eggs(10))

	first, err := h.uc.Execute(context.Background(), pickup(ItemInput{ProductID: "p-eggs", Quantity: 1}))
	require.NoError(t, err)
	second, err := h.uc.Execute(context.Background(), pickup(ItemInput{ProductID: "p-eggs", Quantity: 1}))
	require.NoError(t, err)

	assert.Equal(t, "BR-2026-0001", first.OrderNumber)
	assert.Equal(t, "BR-2026-0002", second.OrderNumber)
}
