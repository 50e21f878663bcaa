package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	domsettings "github.com/farmstand/storefront/internal/domain/settings"
	"golang.org/x/sync/singleflight"
)

const pricingKey = "pricing"

// SettingsCache is a cache-aside reader for checkout pricing. Concurrent misses collapse
// into a single repository read.
type SettingsCache struct {
	repo  domsettings.Repository
	ttl   time.Duration
	group singleflight.Group
	now   func() time.Time

	mu        sync.RWMutex
	pricing   domsettings.Pricing
	expiresAt time.Time
}

func NewSettingsCache(repo domsettings.Repository, ttl time.Duration) *SettingsCache {
	return &SettingsCache{repo: repo, ttl: ttl, now: time.Now}
}

func (c *SettingsCache) Pricing(ctx context.Context) (domsettings.Pricing, error) {
	if p, ok := c.cached(); ok {
		return p, nil
	}
	v, err, _ := c.group.Do(pricingKey, func() (interface{}, error) {
		if p, ok := c.cached(); ok {
			return p, nil
		}
		fresh, err := c.load(ctx)
		if err != nil {
			return domsettings.Pricing{}, err
		}
		c.mu.Lock()
		c.pricing, c.expiresAt = fresh, c.now().Add(c.ttl)
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return domsettings.Pricing{}, err
	}
	return v.(domsettings.Pricing), nil
}

// Invalidate drops the cached value so the next read goes to the repository.
func (c *SettingsCache) Invalidate() {
	c.mu.Lock()
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *SettingsCache) cached() (domsettings.Pricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.expiresAt.IsZero() || !c.now().Before(c.expiresAt) {
		return domsettings.Pricing{}, false
	}
	return c.pricing, true
}

func (c *SettingsCache) load(ctx context.Context) (domsettings.Pricing, error) {
	fee, err := c.get(ctx, domsettings.KeyDeliveryFee)
	if err != nil {
		return domsettings.Pricing{}, err
	}
	rate, err := c.get(ctx, domsettings.KeyTaxRate)
	if err != nil {
		return domsettings.Pricing{}, err
	}
	return domsettings.Pricing{
		DeliveryFee: domsettings.Decimal(fee, domsettings.DefaultDeliveryFee),
		TaxRate:     domsettings.Decimal(rate, domsettings.DefaultTaxRate),
	}, nil
}

func (c *SettingsCache) get(ctx context.Context, key string) (string, error) {
	v, err := c.repo.Get(ctx, key)
	if errors.Is(err, domsettings.ErrNotFound) {
		return "", nil
	}
	return v, err
}
