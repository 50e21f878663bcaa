package content

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/farmstand/storefront/internal/application"
	appinventory "github.com/farmstand/storefront/internal/application/inventory"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	domlivestock "github.com/farmstand/storefront/internal/domain/livestock"
	"github.com/farmstand/storefront/internal/infrastructure/cache"
	"github.com/farmstand/storefront/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() string { return fmt.Sprintf("id-%d", g.n.Add(1)) }

type fixture struct {
	uc       *InlineEditUseCase
	repos    memory.Repositories
	settings *cache.SettingsCache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()
	require.NoError(t, repos.Products.Insert(ctx, &domcatalog.Product{
		ID: "p-jam", Slug: "jam", Name: "Jam", Price: decimal.RequireFromString("6"), StockQuantity: 4,
	}))
	_, err := repos.Animals.UpsertByExternalID(ctx, &domlivestock.Animal{ID: "a-1", ExternalID: "H-1", Name: "Daisy"})
	require.NoError(t, err)

	ids := &seqIDs{}
	stock := appinventory.NewStockService(store, repos.Products, repos.Reservations, repos.Ledger, repos.Outbox, ids, nil)
	settings := cache.NewSettingsCache(repos.Settings, time.Hour)
	uc := NewInlineEditUseCase(store, repos.Settings, settings, repos.Products, stock, repos.Animals, nil)
	return fixture{uc: uc, repos: repos, settings: settings}
}

func TestSettingEditInvalidatesPricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.settings.Pricing(ctx)
	require.NoError(t, err)
	assert.True(t, before.DeliveryFee.Equal(decimal.NewFromInt(5)))

	res, err := f.uc.Execute(ctx, []Edit{{Type: "setting", ID: "delivery_fee", Field: "value", Value: "7.50"}})
	require.NoError(t, err)
	require.True(t, res[0].OK, res[0].Error)

	after, err := f.settings.Pricing(ctx)
	require.NoError(t, err)
	assert.True(t, after.DeliveryFee.Equal(decimal.RequireFromString("7.5")))
}

func TestNegativeFeeIsRejected(t *testing.T) {
	f := newFixture(t)

	res, err := f.uc.Execute(context.Background(), []Edit{{Type: "setting", ID: "delivery_fee", Value: -1.0}})
	require.NoError(t, err)
	assert.False(t, res[0].OK)
	_, err = f.repos.Settings.Get(context.Background(), "delivery_fee")
	assert.Error(t, err)
}

func TestProductStockGoesThroughLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.uc.Execute(ctx, []Edit{{Type: "product", ID: "p-jam", Field: "stockQuantity", Value: 10.0}})
	require.NoError(t, err)
	require.True(t, res[0].OK, res[0].Error)

	entries, err := f.repos.Ledger.List(ctx, dominv.Filter{ProductID: "p-jam"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dominv.SourceAdminInline, entries[0].Source)
	assert.Equal(t, dominv.ChangeSet, entries[0].ChangeType)
	assert.Equal(t, 6, entries[0].Quantity)
}

func TestMixedBatchReportsPerEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.uc.Execute(ctx, []Edit{
		{Type: "product", ID: "p-jam", Field: "price", Value: "6.75"},
		{Type: "product", ID: "p-jam", Field: "name", Value: "Strawberry Jam"},
		{Type: "product", ID: "p-jam", Field: "stockQuantity", Value: -3.0},
		{Type: "product", ID: "p-jam", Field: "slug", Value: "x"},
		{Type: "product", ID: "p-none", Field: "name", Value: "Ghost"},
		{Type: "animal", ID: "a-1", Field: "price", Value: "300"},
		{Type: "blog", ID: "post-1", Field: "title", Value: "Spring lambs"},
	})
	require.NoError(t, err)
	require.Len(t, res, 7)

	ok := make([]bool, len(res))
	for i, r := range res {
		ok[i] = r.OK
	}
	assert.Equal(t, []bool{true, true, false, false, false, true, false}, ok)
	assert.Contains(t, res[6].Error, "unsupported type")

	p, _ := f.repos.Products.Get(ctx, "p-jam")
	assert.Equal(t, "Strawberry Jam", p.Name)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("6.75")))
	assert.Equal(t, 4, p.StockQuantity)

	a, _ := f.repos.Animals.Get(ctx, "a-1")
	require.NotNil(t, a.Price)
	assert.True(t, a.Price.Equal(decimal.NewFromInt(300)))
}

func TestEmptyBatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, application.ErrValidation)
}

func TestStockOutsideIntegerRangeIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.uc.Execute(ctx, []Edit{
		{Type: "product", ID: "p-jam", Field: "stockQuantity", Value: 1e19},
		{Type: "product", ID: "p-jam", Field: "stockQuantity", Value: "9999999999"},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.False(t, r.OK)
		assert.Contains(t, r.Error, "range")
	}

	p, _ := f.repos.Products.Get(ctx, "p-jam")
	assert.Equal(t, 4, p.StockQuantity)
	entries, err := f.repos.Ledger.List(ctx, dominv.Filter{ProductID: "p-jam"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAsIntBounds(t *testing.T) {
	n, err := asInt(float64(math.MaxInt32))
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt32, n)

	_, err = asInt(float64(math.MaxInt32) + 1)
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = asInt(" 12 ")
	assert.NoError(t, err)
	_, err = asInt("12.5")
	assert.ErrorIs(t, err, ErrInvalidValue)
}
