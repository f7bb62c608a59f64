package market

import (
	"context"
	"strings"
	"time"

	"cryptocompare-telegram-bot/internal/alert"
	"cryptocompare-telegram-bot/internal/cache"
	"cryptocompare-telegram-bot/internal/chart"
	"cryptocompare-telegram-bot/internal/types"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// TopSource ranks coins by market cap
type TopSource interface {
	FetchTopCoins(ctx context.Context, quoteSymbol string, count int) ([]types.TopCoin, error)
}

type Config struct {
	// QuoteSymbols are the accepted TSYMs
	QuoteSymbols []string
	TopCount     int
	TopTTL       time.Duration
}

// Repository is what the command layer talks to. It validates user input
// before anything goes upstream.
type Repository struct {
	catalog *cache.CatalogCache
	prices  *cache.PriceCache
	charts  *cache.ChartCache
	top     TopSource
	alerts  *alert.Store

	quotes   map[string]struct{}
	order    []string
	topCount int
	topCache *gocache.Cache
}

func New(cfg Config, catalog *cache.CatalogCache, prices *cache.PriceCache, charts *cache.ChartCache, top TopSource, alerts *alert.Store) *Repository {
	if cfg.TopCount <= 0 {
		cfg.TopCount = 30
	}
	if cfg.TopTTL <= 0 {
		cfg.TopTTL = time.Minute
	}

	r := &Repository{
		catalog:  catalog,
		prices:   prices,
		charts:   charts,
		top:      top,
		alerts:   alerts,
		quotes:   make(map[string]struct{}, len(cfg.QuoteSymbols)),
		topCount: cfg.TopCount,
		topCache: gocache.New(cfg.TopTTL, 2*cfg.TopTTL),
	}
	for _, q := range cfg.QuoteSymbols {
		q = strings.ToUpper(strings.TrimSpace(q))
		if _, dup := r.quotes[q]; q == "" || dup {
			continue
		}
		r.quotes[q] = struct{}{}
		r.order = append(r.order, q)
	}
	return r
}

// Symbols returns the catalog tickers in listing order
func (r *Repository) Symbols(ctx context.Context) ([]string, error) {
	catalog, err := r.catalog.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrDataUnavailable, err.Error())
	}
	return catalog.Symbols(), nil
}

// QuoteSymbols returns the accepted quote currencies
func (r *Repository) QuoteSymbols() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// RefreshCatalog makes sure the catalog is loaded and not older than its refresh interval
func (r *Repository) RefreshCatalog(ctx context.Context) error {
	_, err := r.catalog.Get(ctx)
	return err
}

// SymbolName returns the display name of symbol, or the symbol itself when unknown
func (r *Repository) SymbolName(ctx context.Context, symbol string) string {
	symbol = strings.ToUpper(symbol)
	catalog, err := r.catalog.Get(ctx)
	if err != nil {
		return symbol
	}
	if name, ok := catalog.Name(symbol); ok {
		return name
	}
	return symbol
}

// symbolKnown reports whether symbol is in the catalog. A catalog that cannot
// be loaded is ErrDataUnavailable, not an unknown symbol.
func (r *Repository) symbolKnown(ctx context.Context, symbol string) (bool, error) {
	catalog, err := r.catalog.Get(ctx)
	if err != nil {
		log.WithError(err).Warn("symbol catalog unavailable")
		return false, errors.Wrap(ErrDataUnavailable, err.Error())
	}
	return catalog.Has(strings.ToUpper(symbol)), nil
}

// IsQuoteSymbol reports whether quote is an accepted TSYM
func (r *Repository) IsQuoteSymbol(quote string) bool {
	_, ok := r.quotes[strings.ToUpper(quote)]
	return ok
}

// ValidatePair checks that from is a known coin and to an accepted quote.
// It returns an *InputError for bad input and ErrDataUnavailable when the
// catalog cannot be loaded.
func (r *Repository) ValidatePair(ctx context.Context, from, to string) error {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if !r.IsQuoteSymbol(to) {
		return invalid(ErrInvalidSymbol, "pair", from+" "+to)
	}
	known, err := r.symbolKnown(ctx, from)
	if err != nil {
		return err
	}
	if !known {
		return invalid(ErrInvalidSymbol, "pair", from+" "+to)
	}
	return nil
}

// Price returns the current quote of a valid pair. A quote the provider could
// not refresh is returned with Stale set.
func (r *Repository) Price(ctx context.Context, from, to string) (types.Quote, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if err := r.ValidatePair(ctx, from, to); err != nil {
		return types.Quote{}, err
	}

	q, ok, err := r.prices.Quote(ctx, from, to)
	if err != nil {
		log.WithError(err).Warnf("price %s/%s unavailable", from, to)
		return types.Quote{}, errors.Wrapf(ErrDataUnavailable, "price %s/%s", from, to)
	}
	if !ok {
		return types.Quote{}, errors.Wrapf(ErrDataUnavailable, "no %s/%s market", from, to)
	}
	return q, nil
}

// Chart returns a chart image, rendering it when no near one is cached. A nil
// image means no source has data for the pair.
func (r *Repository) Chart(ctx context.Context, from, to, timeframe string) ([]byte, error) {
	if !chart.IsTimeframe(timeframe) {
		return nil, invalid(ErrInvalidTimeframe, "timeframe", timeframe)
	}
	img, err := r.charts.Get(ctx, cache.ChartKey{Symbol: from, Quote: to, Timeframe: timeframe})
	if err != nil {
		log.WithError(err).Warnf("chart %s/%s %s unavailable", from, to, timeframe)
		return nil, errors.Wrapf(ErrDataUnavailable, "chart %s/%s", from, to)
	}
	return img, nil
}

// ChartNear returns a recently rendered chart of the pair, if any
func (r *Repository) ChartNear(from, to string) []byte {
	img, _ := r.charts.NearPair(from, to)
	return img
}

// TopCoins returns the market-cap ranking quoted in quote
func (r *Repository) TopCoins(ctx context.Context, quote string) ([]types.TopCoin, error) {
	quote = strings.ToUpper(quote)
	if !r.IsQuoteSymbol(quote) {
		return nil, invalid(ErrInvalidSymbol, "quote", quote)
	}

	if v, found := r.topCache.Get(quote); found {
		return v.([]types.TopCoin), nil
	}

	coins, err := r.top.FetchTopCoins(ctx, quote, r.topCount)
	if err != nil {
		log.WithError(err).Warnf("top coins in %s unavailable", quote)
		return nil, errors.Wrapf(ErrDataUnavailable, "top %s", quote)
	}
	r.topCache.SetDefault(quote, coins)
	return coins, nil
}

// AddAlert validates and stores a threshold. Satoshi targets are stored in BTC.
func (r *Repository) AddAlert(ctx context.Context, chatID int64, symbol string, op types.Operator, target, quote string) (types.Condition, error) {
	symbol = strings.ToUpper(symbol)
	known, err := r.symbolKnown(ctx, symbol)
	if err != nil {
		return types.Condition{}, err
	}
	if !known {
		return types.Condition{}, invalid(ErrInvalidSymbol, "symbol", symbol)
	}

	value, err := decimal.NewFromString(strings.TrimSpace(target))
	if err != nil || value.IsNegative() {
		return types.Condition{}, invalid(ErrInvalidNumber, "target", target)
	}

	if op != types.Above && op != types.Below {
		return types.Condition{}, errors.Wrapf(ErrInvalidOperator, "%q", op)
	}

	cond := alert.NewCondition(chatID, symbol, op, quote, value)
	if !r.IsQuoteSymbol(cond.Quote) {
		return types.Condition{}, invalid(ErrInvalidSymbol, "quote", cond.Quote)
	}

	if _, err := r.alerts.Add(ctx, cond); err != nil {
		return types.Condition{}, err
	}
	return cond, nil
}

// Alerts lists the chat's thresholds
func (r *Repository) Alerts(chatID int64) []types.Condition {
	return r.alerts.List(chatID)
}

// ClearAlerts drops every threshold of the chat
func (r *Repository) ClearAlerts(ctx context.Context, chatID int64) (int, error) {
	return r.alerts.Clear(ctx, chatID)
}
