package cryptocompare

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cryptocompare-telegram-bot/internal/ratelimit"
	"cryptocompare-telegram-bot/internal/upstream"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Acquire(context.Context) error {
	l.calls.Add(1)
	return l.err
}

func newClient(t *testing.T, h http.HandlerFunc) (*Client, *countingLimiter) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	transport := upstream.New(time.Second)
	lim := &countingLimiter{}
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k3y", Pages: 3}, transport, lim)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c, lim
}

func TestFetchSymbolCatalog_MergesPagesInOrder(t *testing.T) {
	pages := map[string]string{
		"0": `{"Data":[{"CoinInfo":{"Internal":"BTC","Name":"BTC","FullName":"Bitcoin"}},{"CoinInfo":{"Internal":"ETH","Name":"ETH","FullName":"Ethereum"}}]}`,
		"1": `{"Data":[{"CoinInfo":{"Internal":"ETH","Name":"ETH","FullName":"Ether again"}},{"CoinInfo":{"Internal":"DOGE","Name":"DOGE","FullName":"Dogecoin"}}]}`,
		"2": `{"Data":[]}`,
	}

	var auth string
	c, lim := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/top/totalvol", r.URL.Path)
		require.Equal(t, "100", r.URL.Query().Get("limit"))
		require.Equal(t, "USD", r.URL.Query().Get("tsym"))
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(pages[r.URL.Query().Get("page")]))
	})

	catalog, err := c.FetchSymbolCatalog(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"BTC", "ETH", "DOGE"}, catalog.Symbols())

	name, ok := catalog.Name("ETH")
	require.True(t, ok)
	require.Equal(t, "Ethereum", name)

	require.Equal(t, "Apikey k3y", auth)
	require.EqualValues(t, 1, lim.calls.Load())
}

func TestFetchSymbolCatalog_FailedPageFailsWhole(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"Data":[{"CoinInfo":{"Internal":"BTC","FullName":"Bitcoin"}}]}`))
	})

	catalog, err := c.FetchSymbolCatalog(context.Background())
	require.Nil(t, catalog)

	var fetchErr *CatalogFetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, 1, fetchErr.Page)

	var upErr *upstream.UpstreamError
	require.True(t, errors.As(err, &upErr))
	require.Equal(t, http.StatusForbidden, upErr.Status)
}

func TestFetchPrices_PartialResultsPassThrough(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/pricemulti", r.URL.Path)
		require.Equal(t, "BTC,NOPE", r.URL.Query().Get("fsyms"))
		require.Equal(t, "USD,EUR", r.URL.Query().Get("tsyms"))
		_, _ = w.Write([]byte(`{"BTC":{"USD":42000,"EUR":39000.5}}`))
	})

	prices, err := c.FetchPrices(context.Background(), []string{"BTC", "NOPE"}, []string{"USD", "EUR"})
	require.NoError(t, err)

	p, ok := prices.Get("BTC", "EUR")
	require.True(t, ok)
	require.Equal(t, 39000.5, p)

	_, ok = prices.Get("NOPE", "USD")
	require.False(t, ok)
}

func TestFetchPrices_ProviderErrorBody(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Response":"Error","Message":"fsyms param is invalid"}`))
	})

	_, err := c.FetchPrices(context.Background(), []string{"XX"}, []string{"USD"})

	var fetchErr *PriceFetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Contains(t, err.Error(), "fsyms param is invalid")
}

func TestFetchPrices_RateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	lim := ratelimit.New("test", ratelimit.Config{Count: 1, Period: time.Minute}, ratelimit.SystemClock)
	c := NewClient(Config{BaseURL: srv.URL}, upstream.New(time.Second), lim)

	_, err := c.FetchPrices(context.Background(), []string{"BTC"}, []string{"USD"})
	require.NoError(t, err)

	_, err = c.FetchPrices(context.Background(), []string{"BTC"}, []string{"USD"})
	require.True(t, errors.Is(err, ratelimit.ErrRateLimitExceeded))
	require.EqualValues(t, 1, hits.Load())
}

func TestFetchTopCoins_RanksByResponseOrder(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/top/mktcapfull", r.URL.Path)
		require.Equal(t, "2", r.URL.Query().Get("limit"))
		require.Equal(t, "EUR", r.URL.Query().Get("tsym"))
		fmt.Fprint(w, `{"Data":[
			{"CoinInfo":{"Name":"BTC","FullName":"Bitcoin"},"RAW":{"EUR":{"PRICE":39000,"MKTCAP":770000000000}},"DISPLAY":{"EUR":{"PRICE":"€ 39,000.0"}}},
			{"CoinInfo":{"Name":"ETH","FullName":"Ethereum"},"RAW":{"EUR":{"PRICE":2100.5,"MKTCAP":250000000000}},"DISPLAY":{"EUR":{"PRICE":"€ 2,100.50"}}}
		]}`)
	})

	coins, err := c.FetchTopCoins(context.Background(), "EUR", 2)
	require.NoError(t, err)
	require.Len(t, coins, 2)

	require.Equal(t, 1, coins[0].Rank)
	require.Equal(t, "BTC", coins[0].Symbol)
	require.Equal(t, float64(770000000000), coins[0].MarketCap)
	require.Equal(t, "€ 39,000.0", coins[0].DisplayPrice)

	require.Equal(t, 2, coins[1].Rank)
	require.Equal(t, 2100.5, coins[1].Price)
}

func TestFetchTopCoins_ErrorBody(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Response":"Error","Message":"tsym param is invalid"}`))
	})

	_, err := c.FetchTopCoins(context.Background(), "ZZZ", 10)

	var fetchErr *TopFetchError
	require.True(t, errors.As(err, &fetchErr))
}
