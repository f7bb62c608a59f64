package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"cryptocompare-telegram-bot/internal/metrics"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const chartCacheName = "chart"

// ChartRenderer draws a chart. A nil image with a nil error means no chart
// is available for the pair.
type ChartRenderer interface {
	RenderChart(ctx context.Context, symbol, quote, timeframe string) ([]byte, error)
}

// ChartKey identifies one rendered chart
type ChartKey struct {
	Symbol    string
	Quote     string
	Timeframe string
}

func (k ChartKey) String() string {
	return k.Symbol + "/" + k.Quote + "@" + k.Timeframe
}

type ChartItem struct {
	Image      []byte
	RenderedAt time.Time
}

// ChartCache keeps rendered charts and reuses one while it is younger than tolerance
type ChartCache struct {
	renderer     ChartRenderer
	tolerance    time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	charts map[ChartKey]ChartItem
}

func NewChartCache(renderer ChartRenderer, tolerance time.Duration) *ChartCache {
	return &ChartCache{
		renderer:     renderer,
		tolerance:    tolerance,
		fetchTimeout: time.Minute,
		now:          time.Now,
		charts:       make(map[ChartKey]ChartItem),
	}
}

// Near returns a cached chart rendered within tolerance without rendering a new one
func (c *ChartCache) Near(key ChartKey) ([]byte, bool) {
	key = key.normalized()

	c.mu.RLock()
	item, found := c.charts[key]
	c.mu.RUnlock()

	if !found || c.now().Sub(item.RenderedAt) > c.tolerance {
		return nil, false
	}
	return item.Image, true
}

// NearPair returns the most recent chart of the pair in any timeframe,
// provided it was rendered within tolerance
func (c *ChartCache) NearPair(symbol, quote string) ([]byte, bool) {
	want := ChartKey{Symbol: symbol, Quote: quote}.normalized()
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var best ChartItem
	for k, item := range c.charts {
		if k.Symbol != want.Symbol || k.Quote != want.Quote {
			continue
		}
		if now.Sub(item.RenderedAt) > c.tolerance {
			continue
		}
		if item.RenderedAt.After(best.RenderedAt) {
			best = item
		}
	}
	return best.Image, best.Image != nil
}

// Get returns a near chart or renders a fresh one. (nil, nil) means the
// renderer has nothing for this key.
func (c *ChartCache) Get(ctx context.Context, key ChartKey) ([]byte, error) {
	key = key.normalized()

	if img, ok := c.Near(key); ok {
		metrics.CacheHits.WithLabelValues(chartCacheName).Inc()
		log.Debugf("returning cached chart for %s", key)
		return img, nil
	}
	metrics.CacheMisses.WithLabelValues(chartCacheName).Inc()

	if c.renderer == nil {
		return nil, nil
	}

	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		renderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		img, err := c.renderer.RenderChart(renderCtx, key.Symbol, key.Quote, key.Timeframe)
		if err != nil || img == nil {
			return img, err
		}

		c.mu.Lock()
		c.charts[key] = ChartItem{Image: img, RenderedAt: c.now()}
		c.mu.Unlock()
		return img, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		img, _ := res.Val.([]byte)
		return img, nil
	}
}

// Prune drops charts older than tolerance
func (c *ChartCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, item := range c.charts {
		if now.Sub(item.RenderedAt) > c.tolerance {
			delete(c.charts, k)
			removed++
		}
	}
	return removed
}

func (k ChartKey) normalized() ChartKey {
	return ChartKey{
		Symbol:    strings.ToUpper(k.Symbol),
		Quote:     strings.ToUpper(k.Quote),
		Timeframe: k.Timeframe,
	}
}
