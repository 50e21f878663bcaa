package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domsettings "github.com/farmstand/storefront/internal/domain/settings"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	values map[string]string
	reads  atomic.Int32
	delay  time.Duration
}

func (r *countingRepo) Get(_ context.Context, key string) (string, error) {
	r.reads.Add(1)
	time.Sleep(r.delay)
	v, ok := r.values[key]
	if !ok {
		return "", domsettings.ErrNotFound
	}
	return v, nil
}

func (r *countingRepo) Set(_ context.Context, key, value string) error {
	r.values[key] = value
	return nil
}

func TestPricingDefaults(t *testing.T) {
	c := NewSettingsCache(&countingRepo{values: map[string]string{}}, time.Minute)

	p, err := c.Pricing(context.Background())
	require.NoError(t, err)
	assert.True(t, p.DeliveryFee.Equal(decimal.NewFromInt(5)))
	assert.True(t, p.TaxRate.IsZero())
}

func TestPricingCollapsesConcurrentMisses(t *testing.T) {
	repo := &countingRepo{values: map[string]string{"delivery_fee": "7"}, delay: 20 * time.Millisecond}
	c := NewSettingsCache(repo, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.Pricing(context.Background())
			assert.NoError(t, err)
			assert.True(t, p.DeliveryFee.Equal(decimal.NewFromInt(7)))
		}()
	}
	wg.Wait()

	// one load reads both keys
	assert.EqualValues(t, 2, repo.reads.Load())
}

func TestInvalidateForcesReload(t *testing.T) {
	repo := &countingRepo{values: map[string]string{"delivery_fee": "7"}}
	c := NewSettingsCache(repo, time.Hour)
	ctx := context.Background()

	_, err := c.Pricing(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Set(ctx, "delivery_fee", "9"))

	p, _ := c.Pricing(ctx)
	assert.True(t, p.DeliveryFee.Equal(decimal.NewFromInt(7)))

	c.Invalidate()
	p, _ = c.Pricing(ctx)
	assert.True(t, p.DeliveryFee.Equal(decimal.NewFromInt(9)))
}
