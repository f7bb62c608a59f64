package chart

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const candles = 120

// errInvalidSymbol is returned by binance for unknown pairs
const errInvalidSymbol = -1121

// Point is one close price
type Point struct {
	Time  time.Time
	Price float64
}

// Source provides price history. A nil slice with a nil error means the
// source does not know the pair.
type Source interface {
	Name() string
	History(ctx context.Context, symbol, quote, timeframe string) ([]Point, error)
}

// BinanceSource reads closed candles from the binance spot API
type BinanceSource struct {
	client *binance.Client
}

func NewBinanceSource(apiKey, secretKey string) *BinanceSource {
	return &BinanceSource{client: binance.NewClient(apiKey, secretKey)}
}

func (s *BinanceSource) Name() string { return "Binance" }

// binancePair maps fiat USD onto the USDT book
func binancePair(symbol, quote string) string {
	if quote == "USD" {
		quote = "USDT"
	}
	return symbol + quote
}

func (s *BinanceSource) History(ctx context.Context, symbol, quote, timeframe string) ([]Point, error) {
	pair := binancePair(symbol, quote)

	klines, err := s.client.NewKlinesService().
		Symbol(pair).
		Interval(timeframe).
		Limit(candles).
		Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok && apiErr.Code == errInvalidSymbol {
			log.Debugf("binance has no %s market", pair)
			return nil, nil
		}
		return nil, errors.Wrapf(err, "binance klines %s %s", pair, timeframe)
	}

	points := make([]Point, 0, len(klines))
	for _, k := range klines {
		price, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "binance kline close %q", k.Close)
		}
		points = append(points, Point{Time: time.UnixMilli(k.OpenTime), Price: price})
	}
	return points, nil
}

// PaprikaSource reads historical tickers from CoinPaprika. It only quotes USD and BTC.
type PaprikaSource struct {
	client *coinpaprika.Client
	now    func() time.Time
}

func NewPaprikaSource(apiKey string) *PaprikaSource {
	client := coinpaprika.NewClient(nil)
	if apiKey != "" {
		client = coinpaprika.NewClient(nil, coinpaprika.WithAPIKey(apiKey))
	}
	return &PaprikaSource{client: client, now: time.Now}
}

func (s *PaprikaSource) Name() string { return "CoinPaprika" }

// paprikaIntervals are the historical ticker intervals, shortest first
var paprikaIntervals = []struct {
	name string
	d    time.Duration
}{
	{"5m", 5 * time.Minute},
	{"15m", 15 * time.Minute},
	{"30m", 30 * time.Minute},
	{"1h", time.Hour},
	{"2h", 2 * time.Hour},
	{"6h", 6 * time.Hour},
	{"12h", 12 * time.Hour},
	{"1d", 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
	{"30d", 30 * 24 * time.Hour},
}

func paprikaInterval(d time.Duration) string {
	for _, i := range paprikaIntervals {
		if i.d >= d {
			return i.name
		}
	}
	return paprikaIntervals[len(paprikaIntervals)-1].name
}

func (s *PaprikaSource) History(ctx context.Context, symbol, quote, timeframe string) ([]Point, error) {
	if quote != "USD" && quote != "BTC" {
		return nil, nil
	}
	step, err := TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}

	result, err := s.client.Search.Search(&coinpaprika.SearchOptions{
		Query:      symbol,
		Categories: "currencies",
		Modifier:   "symbol_search",
	})
	if err != nil {
		return nil, errors.Wrapf(err, "coinpaprika search %s", symbol)
	}

	var coin *coinpaprika.Coin
	for _, c := range result.Currencies {
		if c.Symbol != nil && strings.EqualFold(*c.Symbol, symbol) && c.ID != nil {
			coin = c
			break
		}
	}
	if coin == nil {
		return nil, nil
	}

	interval := paprikaInterval(step)
	tickers, err := s.client.Tickers.GetHistoricalTickersByID(*coin.ID, &coinpaprika.TickersHistoricalOptions{
		Quote:    quote,
		Limit:    candles,
		Interval: interval,
		Start:    s.now().Add(-step * candles),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "coinpaprika history %s", *coin.ID)
	}

	points := make([]Point, 0, len(tickers))
	for _, t := range tickers {
		if t.Timestamp == nil || t.Price == nil {
			continue
		}
		points = append(points, Point{Time: *t.Timestamp, Price: *t.Price})
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return points, nil
}
