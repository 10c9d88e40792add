// Package prefs provides a read-through cache for tenant outreach
// preferences.
//
// The cache is an injected dependency with an explicit TTL, invalidated on
// writes. Tenants without stored preferences get defaults (everything
// enabled), cached as well so missing rows do not hammer the store.
package prefs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/store"
)

// DefaultTTL is how long a cached preference entry stays fresh.
const DefaultTTL = 5 * time.Minute

// Source loads and saves tenant preferences. Satisfied by store.Store.
type Source interface {
	TenantPreferences(ctx context.Context, tenantID string) (*models.TenantPreferences, error)
	SaveTenantPreferences(ctx context.Context, prefs *models.TenantPreferences) error
}

type entry struct {
	prefs     *models.TenantPreferences
	fetchedAt time.Time
}

// Cache is a TTL read-through cache over a preference source.
type Cache struct {
	source Source
	ttl    time.Duration
	mu     sync.Mutex
	byID   map[string]entry
}

// NewCache creates a cache over the source. A non-positive TTL falls back to
// DefaultTTL.
func NewCache(source Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache{
		source: source,
		ttl:    ttl,
		byID:   make(map[string]entry),
	}
}

// Get returns the tenant's preferences, fetching through to the source when
// the cached entry is missing or stale. A tenant with no stored preferences
// yields defaults.
func (c *Cache) Get(ctx context.Context, tenantID string) (*models.TenantPreferences, error) {
	now := time.Now()

	c.mu.Lock()
	cached, ok := c.byID[tenantID]
	c.mu.Unlock()

	if ok && now.Sub(cached.fetchedAt) < c.ttl {
		return cached.prefs, nil
	}

	prefs, err := c.source.TenantPreferences(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, store.ErrPreferencesNotFound) {
			return nil, err
		}

		prefs = &models.TenantPreferences{TenantID: tenantID}
	}

	c.mu.Lock()
	c.byID[tenantID] = entry{prefs: prefs, fetchedAt: now}
	c.mu.Unlock()

	return prefs, nil
}

// Save writes the preferences through to the source and invalidates the
// cached entry.
func (c *Cache) Save(ctx context.Context, prefs *models.TenantPreferences) error {
	err := c.source.SaveTenantPreferences(ctx, prefs)
	if err != nil {
		return err
	}

	c.Invalidate(prefs.TenantID)

	return nil
}

// Invalidate drops the cached entry for a tenant.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.byID, tenantID)
}
