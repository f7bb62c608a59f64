package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cryptocompare-telegram-bot/internal/cryptocompare"
	"cryptocompare-telegram-bot/internal/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakePrices struct {
	calls   atomic.Int32
	prices  cryptocompare.Prices
	err     error
	release chan struct{}
	mu      sync.Mutex
	asked   [][]string
}

func (f *fakePrices) FetchPrices(_ context.Context, froms, tos []string) (cryptocompare.Prices, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.asked = append(f.asked, append(append([]string{}, froms...), tos...))
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.prices, nil
}

func TestPriceCache_MemoizesWithinTTL(t *testing.T) {
	src := &fakePrices{prices: cryptocompare.Prices{"BTC": {"USD": 42000}}}
	c := NewPriceCache(src, time.Minute, time.Hour)

	q, ok, err := c.Quote(context.Background(), "btc", "usd")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42000.0, q.Price)
	require.False(t, q.Stale)

	q, ok, err = c.Quote(context.Background(), "BTC", "USD")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42000.0, q.Price)

	require.EqualValues(t, 1, src.calls.Load())
}

func TestPriceCache_SingleFlightConcurrentCallers(t *testing.T) {
	src := &fakePrices{
		prices:  cryptocompare.Prices{"BTC": {"USD": 42000}, "ETH": {"USD": 2000}},
		release: make(chan struct{}),
	}
	c := NewPriceCache(src, time.Minute, time.Hour)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]float64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			quotes, err := c.Quotes(context.Background(), []string{"ETH", "BTC"}, []string{"USD"})
			require.NoError(t, err)
			results[i] = quotes[Pair{From: "BTC", To: "USD"}].Price
		}(i)
	}

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	require.EqualValues(t, 1, src.calls.Load())
	for _, r := range results {
		require.Equal(t, 42000.0, r)
	}
	require.Equal(t, []string{"BTC", "ETH", "USD"}, src.asked[0])
}

func TestPriceCache_OverlappingSetsShareInFlightPair(t *testing.T) {
	src := &fakePrices{
		prices:  cryptocompare.Prices{"BTC": {"USD": 42000}, "ETH": {"USD": 2000}},
		release: make(chan struct{}),
	}
	c := NewPriceCache(src, time.Minute, time.Hour)

	var wg sync.WaitGroup
	var single, batch map[Pair]types.Quote
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		single, err = c.Quotes(context.Background(), []string{"BTC"}, []string{"USD"})
		require.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	go func() {
		defer wg.Done()
		var err error
		batch, err = c.Quotes(context.Background(), []string{"BTC", "ETH"}, []string{"USD"})
		require.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 2 }, time.Second, time.Millisecond)

	close(src.release)
	wg.Wait()

	require.EqualValues(t, 2, src.calls.Load())
	require.ElementsMatch(t, [][]string{{"BTC", "USD"}, {"ETH", "USD"}}, src.asked)
	require.Equal(t, 42000.0, single[Pair{From: "BTC", To: "USD"}].Price)
	require.Equal(t, 42000.0, batch[Pair{From: "BTC", To: "USD"}].Price)
	require.Equal(t, 2000.0, batch[Pair{From: "ETH", To: "USD"}].Price)
}

func TestPriceCache_MissingPairIsAbsent(t *testing.T) {
	src := &fakePrices{prices: cryptocompare.Prices{"BTC": {"USD": 42000}}}
	c := NewPriceCache(src, time.Minute, time.Hour)

	quotes, err := c.Quotes(context.Background(), []string{"BTC", "NOPE"}, []string{"USD"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)

	_, ok, err := c.Quote(context.Background(), "NOPE", "USD")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPriceCache_ServesStaleOnFailure(t *testing.T) {
	src := &fakePrices{prices: cryptocompare.Prices{"BTC": {"USD": 42000}}}
	c := NewPriceCache(src, 10*time.Millisecond, time.Hour)

	_, _, err := c.Quote(context.Background(), "BTC", "USD")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	src.err = errors.New("provider down")

	q, ok, err := c.Quote(context.Background(), "BTC", "USD")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, q.Stale)
	require.Equal(t, 42000.0, q.Price)
	require.EqualValues(t, 2, src.calls.Load())

	_, ok, err = c.Quote(context.Background(), "ETH", "USD")
	require.Error(t, err)
	require.False(t, ok)
}

func TestPriceCache_AbandonedCallerDoesNotCancelFetch(t *testing.T) {
	src := &fakePrices{
		prices:  cryptocompare.Prices{"BTC": {"USD": 42000}},
		release: make(chan struct{}),
	}
	c := NewPriceCache(src, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := c.Quote(ctx, "BTC", "USD")
		done <- err
	}()

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(src.release)
	require.Eventually(t, func() bool {
		_, found := c.fresh.Get(Pair{From: "BTC", To: "USD"}.key())
		return found
	}, time.Second, time.Millisecond)

	q, ok, err := c.Quote(context.Background(), "BTC", "USD")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42000.0, q.Price)
	require.EqualValues(t, 1, src.calls.Load())
}

type fakeCatalogs struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *fakeCatalogs) FetchSymbolCatalog(context.Context) (*cryptocompare.Catalog, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, &cryptocompare.CatalogFetchError{Page: 3, Err: errors.New("boom")}
	}
	c := cryptocompare.NewCatalog()
	c.Add("BTC", "Bitcoin")
	return c, nil
}

func TestCatalogCache_ServesStaleOnRefreshFailure(t *testing.T) {
	src := &fakeCatalogs{}
	c := NewCatalogCache(src, time.Hour)
	now := time.Now()
	c.now = func() time.Time { return now }

	catalog, err := c.Get(context.Background())
	require.NoError(t, err)
	require.True(t, catalog.Has("BTC"))

	_, err = c.Get(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, src.calls.Load())

	now = now.Add(2 * time.Hour)
	src.fail.Store(true)

	catalog, err = c.Get(context.Background())
	require.NoError(t, err)
	require.True(t, catalog.Has("BTC"))
	require.EqualValues(t, 2, src.calls.Load())

	var fetchErr *cryptocompare.CatalogFetchError
	require.True(t, errors.As(c.Refresh(context.Background()), &fetchErr))
	require.NotNil(t, c.Peek())
}

func TestCatalogCache_NoCatalogPropagatesError(t *testing.T) {
	src := &fakeCatalogs{}
	src.fail.Store(true)
	c := NewCatalogCache(src, time.Hour)

	catalog, err := c.Get(context.Background())
	require.Nil(t, catalog)
	require.Error(t, err)
}

func TestCatalogCache_FailedFetchWaitsForRetryDelay(t *testing.T) {
	src := &fakeCatalogs{}
	src.fail.Store(true)
	c := NewCatalogCache(src, time.Hour)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.Get(context.Background())
	var fetchErr *cryptocompare.CatalogFetchError
	require.True(t, errors.As(err, &fetchErr))

	_, err = c.Get(context.Background())
	require.True(t, errors.As(err, &fetchErr))
	require.EqualValues(t, 1, src.calls.Load())

	now = now.Add(c.retryAfter + time.Second)
	src.fail.Store(false)

	catalog, err := c.Get(context.Background())
	require.NoError(t, err)
	require.True(t, catalog.Has("BTC"))
	require.EqualValues(t, 2, src.calls.Load())
}

type fakeRenderer struct {
	calls atomic.Int32
	img   []byte
}

func (f *fakeRenderer) RenderChart(context.Context, string, string, string) ([]byte, error) {
	f.calls.Add(1)
	return f.img, nil
}

func TestChartCache_ReusesWithinTolerance(t *testing.T) {
	r := &fakeRenderer{img: []byte{0x89, 'P', 'N', 'G'}}
	c := NewChartCache(r, 5*time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	key := ChartKey{Symbol: "btc", Quote: "usd", Timeframe: "1h"}

	img, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, r.img, img)

	now = now.Add(4 * time.Minute)
	_, err = c.Get(context.Background(), key)
	require.NoError(t, err)
	require.EqualValues(t, 1, r.calls.Load())

	near, ok := c.NearPair("BTC", "USD")
	require.True(t, ok)
	require.Equal(t, r.img, near)

	now = now.Add(2 * time.Minute)
	_, ok = c.NearPair("BTC", "USD")
	require.False(t, ok)

	_, err = c.Get(context.Background(), key)
	require.NoError(t, err)
	require.EqualValues(t, 2, r.calls.Load())
}

func TestChartCache_NoChartIsNotAnError(t *testing.T) {
	r := &fakeRenderer{}
	c := NewChartCache(r, time.Minute)

	img, err := c.Get(context.Background(), ChartKey{Symbol: "XYZ", Quote: "USD", Timeframe: "1h"})
	require.NoError(t, err)
	require.Nil(t, img)
	require.Equal(t, 0, c.Prune())
}
