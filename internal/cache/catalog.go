package cache

import (
	"context"
	"sync"
	"time"

	"cryptocompare-telegram-bot/internal/cryptocompare"
	"cryptocompare-telegram-bot/internal/metrics"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const catalogKey = "catalog"

// CatalogSource loads the full symbol catalog
type CatalogSource interface {
	FetchSymbolCatalog(ctx context.Context) (*cryptocompare.Catalog, error)
}

// CatalogCache keeps the last good catalog and refreshes it once the refresh
// interval elapses. A failed refresh keeps serving the old catalog.
type CatalogCache struct {
	source       CatalogSource
	refresh      time.Duration
	retryAfter   time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	catalog   *cryptocompare.Catalog
	loadedAt  time.Time
	nextCheck time.Time
	lastErr   error
}

// NewCatalogCache creates an empty cache. Nothing is fetched until the first Get.
func NewCatalogCache(source CatalogSource, refresh time.Duration) *CatalogCache {
	retry := time.Minute
	if refresh < retry {
		retry = refresh
	}
	return &CatalogCache{
		source:       source,
		refresh:      refresh,
		retryAfter:   retry,
		fetchTimeout: 5 * time.Minute,
		now:          time.Now,
	}
}

// Get returns the cached catalog, fetching it when absent or expired
func (c *CatalogCache) Get(ctx context.Context) (*cryptocompare.Catalog, error) {
	c.mu.RLock()
	catalog, due, lastErr := c.catalog, c.now().After(c.nextCheck), c.lastErr
	c.mu.RUnlock()

	if catalog != nil && !due {
		metrics.CacheHits.WithLabelValues(catalogKey).Inc()
		return catalog, nil
	}
	// nothing cached and the last attempt failed: wait out the retry delay
	if catalog == nil && !due && lastErr != nil {
		return nil, lastErr
	}
	metrics.CacheMisses.WithLabelValues(catalogKey).Inc()

	res, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if res.catalog == nil {
		return nil, res.err
	}
	return res.catalog, nil
}

// Refresh fetches a new catalog regardless of age. On failure the previous
// catalog stays in place and the error is returned for logging.
func (c *CatalogCache) Refresh(ctx context.Context) error {
	res, err := c.load(ctx)
	if err != nil {
		return err
	}
	return res.err
}

// Peek returns whatever is cached without touching the network
func (c *CatalogCache) Peek() *cryptocompare.Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog
}

// Set replaces the cached catalog
func (c *CatalogCache) Set(catalog *cryptocompare.Catalog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.catalog = catalog
	c.loadedAt = now
	c.nextCheck = now.Add(c.refresh)
	c.lastErr = nil
}

// catalogResult carries the catalog to serve and the refresh error, if any.
// Both are set when a stale catalog is served after a failed refresh.
type catalogResult struct {
	catalog *cryptocompare.Catalog
	err     error
}

func (c *CatalogCache) load(ctx context.Context) (catalogResult, error) {
	ch := c.group.DoChan(catalogKey, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		fresh, err := c.source.FetchSymbolCatalog(fetchCtx)
		if err != nil {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.nextCheck = c.now().Add(c.retryAfter)
			c.lastErr = err
			if c.catalog != nil {
				log.WithError(err).Warnf("catalog refresh failed, serving catalog from %s", c.loadedAt.Format(time.RFC3339))
			} else {
				log.WithError(err).Error("catalog fetch failed, no catalog cached")
			}
			return catalogResult{catalog: c.catalog, err: err}, nil
		}

		c.Set(fresh)
		return catalogResult{catalog: fresh}, nil
	})

	select {
	case <-ctx.Done():
		return catalogResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return catalogResult{}, res.Err
		}
		return res.Val.(catalogResult), nil
	}
}
