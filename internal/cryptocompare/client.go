package cryptocompare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptocompare-telegram-bot/internal/types"
	"cryptocompare-telegram-bot/internal/upstream"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://min-api.cryptocompare.com"

	catalogPageSize = 100
	catalogQuote    = "USD"
)

// Getter is the retrying transport the client issues requests through
type Getter interface {
	Get(ctx context.Context, url string, header http.Header) (*upstream.Response, error)
}

// Limiter guards the provider quota
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Config of the CryptoCompare client
type Config struct {
	BaseURL   string
	APIKey    string
	Pages     int
	PageDelay time.Duration
}

// Client talks to the CryptoCompare min-api
type Client struct {
	cfg     Config
	http    Getter
	limiter Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// Prices is fromSymbol -> toSymbol -> price
type Prices map[string]map[string]float64

// Get returns the price of one pair from a batched response
func (p Prices) Get(from, to string) (float64, bool) {
	quotes, ok := p[from]
	if !ok {
		return 0, false
	}
	price, ok := quotes[to]
	return price, ok
}

// NewClient creates a client. Every operation takes one limiter slot.
func NewClient(cfg Config, http Getter, limiter Limiter) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Pages <= 0 {
		cfg.Pages = 10
	}
	return &Client{
		cfg:     cfg,
		http:    http,
		limiter: limiter,
		sleep:   sleepCtx,
	}
}

type apiStatus struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
}

func (s apiStatus) err() error {
	if strings.EqualFold(s.Response, "Error") {
		return errors.Errorf("provider error: %s", s.Message)
	}
	return nil
}

type coinInfo struct {
	Name     string `json:"Name"`
	Internal string `json:"Internal"`
	FullName string `json:"FullName"`
}

type totalVolResponse struct {
	apiStatus
	Data []struct {
		CoinInfo coinInfo `json:"CoinInfo"`
	} `json:"Data"`
}

type mktCapResponse struct {
	apiStatus
	Data []struct {
		CoinInfo coinInfo `json:"CoinInfo"`
		Raw      map[string]struct {
			Price     float64 `json:"PRICE"`
			MarketCap float64 `json:"MKTCAP"`
		} `json:"RAW"`
		Display map[string]struct {
			Price string `json:"PRICE"`
		} `json:"DISPLAY"`
	} `json:"Data"`
}

// FetchSymbolCatalog walks the top-by-volume listing and merges every page
// into one ordered catalog. Any failed page fails the whole fetch.
func (c *Client) FetchSymbolCatalog(ctx context.Context) (*Catalog, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, &CatalogFetchError{Page: 0, Err: err}
	}

	catalog := NewCatalog()
	for page := 0; page < c.cfg.Pages; page++ {
		if page > 0 && c.cfg.PageDelay > 0 {
			if err := c.sleep(ctx, c.cfg.PageDelay); err != nil {
				return nil, &CatalogFetchError{Page: page, Err: err}
			}
		}

		q := url.Values{}
		q.Set("limit", strconv.Itoa(catalogPageSize))
		q.Set("tsym", catalogQuote)
		q.Set("page", strconv.Itoa(page))
		endpoint := c.cfg.BaseURL + "/data/top/totalvol?" + q.Encode()

		log.Debugf("loading symbols from network: %s", endpoint)

		var body totalVolResponse
		if err := c.getJSON(ctx, endpoint, &body); err != nil {
			return nil, &CatalogFetchError{Page: page, Err: err}
		}
		if err := body.err(); err != nil {
			return nil, &CatalogFetchError{Page: page, Err: err}
		}
		if len(body.Data) == 0 {
			log.Debugf("symbol listing ended at page %d", page)
			break
		}

		for _, coin := range body.Data {
			symbol := coin.CoinInfo.Internal
			if symbol == "" {
				symbol = coin.CoinInfo.Name
			}
			if symbol == "" {
				continue
			}
			catalog.Add(strings.ToUpper(symbol), coin.CoinInfo.FullName)
		}
	}

	log.Infof("symbol catalog loaded: %d symbols", catalog.Len())
	return catalog, nil
}

// FetchPrices issues one batched pricemulti call. Pairs missing from the
// response are simply absent from the result.
func (c *Client) FetchPrices(ctx context.Context, fromSymbols, toSymbols []string) (Prices, error) {
	if len(fromSymbols) == 0 || len(toSymbols) == 0 {
		return nil, &PriceFetchError{Err: errors.New("no symbols requested")}
	}
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, &PriceFetchError{Err: err}
	}

	q := url.Values{}
	q.Set("fsyms", strings.Join(fromSymbols, ","))
	q.Set("tsyms", strings.Join(toSymbols, ","))
	endpoint := c.cfg.BaseURL + "/data/pricemulti?" + q.Encode()

	var raw map[string]json.RawMessage
	if err := c.getJSON(ctx, endpoint, &raw); err != nil {
		return nil, &PriceFetchError{Err: err}
	}

	if status, ok := raw["Response"]; ok {
		var s apiStatus
		if err := json.Unmarshal(status, &s.Response); err == nil && strings.EqualFold(s.Response, "Error") {
			_ = json.Unmarshal(raw["Message"], &s.Message)
			return nil, &PriceFetchError{Err: s.err()}
		}
	}

	prices := make(Prices, len(raw))
	for from, payload := range raw {
		var quotes map[string]float64
		if err := json.Unmarshal(payload, &quotes); err != nil {
			log.Debugf("skipping non-price field %q in pricemulti response", from)
			continue
		}
		prices[from] = quotes
	}

	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("pricemulti response: %s", spew.Sdump(prices))
	}
	return prices, nil
}

// FetchTopCoins returns the market-cap ranking. count is passed through; the
// provider caps it on its side.
func (c *Client) FetchTopCoins(ctx context.Context, quoteSymbol string, count int) ([]types.TopCoin, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, &TopFetchError{Err: err}
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(count))
	q.Set("tsym", quoteSymbol)
	endpoint := c.cfg.BaseURL + "/data/top/mktcapfull?" + q.Encode()

	var body mktCapResponse
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return nil, &TopFetchError{Err: err}
	}
	if err := body.err(); err != nil {
		return nil, &TopFetchError{Err: err}
	}

	coins := make([]types.TopCoin, 0, len(body.Data))
	for i, row := range body.Data {
		raw, ok := row.Raw[quoteSymbol]
		if !ok {
			log.Debugf("top coins: %s has no %s quote, skipping", row.CoinInfo.Name, quoteSymbol)
			continue
		}
		coins = append(coins, types.TopCoin{
			Rank:         i + 1,
			Symbol:       row.CoinInfo.Name,
			Name:         row.CoinInfo.FullName,
			MarketCap:    raw.MarketCap,
			Price:        raw.Price,
			DisplayPrice: row.Display[quoteSymbol].Price,
		})
	}
	return coins, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v interface{}) error {
	resp, err := c.http.Get(ctx, endpoint, c.header())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return errors.Wrapf(err, "decode %s", endpoint)
	}
	return nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.cfg.APIKey != "" {
		h.Set("Authorization", "Apikey "+c.cfg.APIKey)
	}
	return h
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
