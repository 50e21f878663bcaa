package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmstand/storefront/internal/application"
	appinventory "github.com/farmstand/storefront/internal/application/inventory"
	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	"github.com/farmstand/storefront/internal/infrastructure/memory"
)

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() string { return fmt.Sprintf("id-%d", g.n.Add(1)) }

func newService(t *testing.T) (*AdminService, memory.Repositories) {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	ids := &seqIDs{}
	stock := appinventory.NewStockService(store, repos.Products, repos.Reservations, repos.Ledger, repos.Outbox, ids, nil)
	return NewAdminService(store, repos.Products, stock, ids, nil), repos
}

func TestCreateRecordsOpeningStockInLedger(t *testing.T) {
	svc, repos := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{
		Name: " Pasture Eggs ", Price: decimal.RequireFromString("8.004"), Unit: "dozen",
		Category: "eggs", StockQuantity: 24, LowStockThreshold: 6,
	})
	require.NoError(t, err)
	assert.Equal(t, "pasture-eggs", p.Slug)
	assert.Equal(t, "Pasture Eggs", p.Name)
	assert.Equal(t, "8", p.Price.String())
	assert.Equal(t, 24, p.StockQuantity)
	assert.True(t, p.InStock)

	stored, err := repos.Products.FindBySlug(ctx, "pasture-eggs")
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.ID)
	assert.Equal(t, 24, stored.StockQuantity)

	entries, err := repos.Ledger.List(ctx, dominv.Filter{ProductID: p.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dominv.ChangeSet, entries[0].ChangeType)
	assert.Equal(t, 0, entries[0].PreviousQty)
	assert.Equal(t, 24, entries[0].NewQty)
	assert.Equal(t, dominv.SourceAdmin, entries[0].Source)
}

func TestCreateWithoutStockWritesNoLedger(t *testing.T) {
	svc, repos := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{Slug: "Goat Milk Soap", Name: "Soap", Price: decimal.NewFromInt(6)})
	require.NoError(t, err)
	assert.Equal(t, "goat-milk-soap", p.Slug)
	assert.Equal(t, "each", p.Unit)
	assert.False(t, p.InStock)

	entries, err := repos.Ledger.List(ctx, dominv.Filter{ProductID: p.ID})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "Honey", Price: decimal.NewFromInt(12)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Name: "honey", Price: decimal.NewFromInt(14), StockQuantity: 3})
	assert.ErrorIs(t, err, domcatalog.ErrDuplicate)
}

func TestCreateValidation(t *testing.T) {
	svc, repos := newService(t)

	cases := map[string]CreateInput{
		"missing name":     {Price: decimal.NewFromInt(1)},
		"punctuation only": {Name: "!!!", Price: decimal.NewFromInt(1)},
		"zero price":       {Name: "Jam"},
		"negative stock":   {Name: "Jam", Price: decimal.NewFromInt(1), StockQuantity: -1},
		"huge stock":       {Name: "Jam", Price: decimal.NewFromInt(1), StockQuantity: 1 << 40},
		"negative limit":   {Name: "Jam", Price: decimal.NewFromInt(1), PreorderLimit: -2},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), in)
			assert.ErrorIs(t, err, application.ErrValidation)
		})
	}

	all, err := repos.Products.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "lamb-chops-2-pack", Slugify("  Lamb Chops (2-pack) "))
	assert.Equal(t, "", Slugify("--"))
}
