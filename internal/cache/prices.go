package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cryptocompare-telegram-bot/internal/cryptocompare"
	"cryptocompare-telegram-bot/internal/metrics"
	"cryptocompare-telegram-bot/internal/types"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const priceCacheName = "price"

// PriceSource fetches a batch of prices in one call
type PriceSource interface {
	FetchPrices(ctx context.Context, fromSymbols, toSymbols []string) (cryptocompare.Prices, error)
}

// Pair is a from/to symbol pair
type Pair struct {
	From string
	To   string
}

func (p Pair) key() string {
	return p.From + "/" + p.To
}

// PriceCache memoizes quotes per pair for a short TTL. A missing pair is
// fetched by one caller at a time; concurrent callers asking for a pair that
// is already in flight wait for that fetch and only fetch the rest.
type PriceCache struct {
	source       PriceSource
	fetchTimeout time.Duration

	fresh *gocache.Cache
	stale *gocache.Cache

	mu       sync.Mutex
	inflight map[Pair]*priceCall
}

// priceCall is one batched upstream fetch. quotes and err are set before done
// is closed.
type priceCall struct {
	done   chan struct{}
	quotes map[Pair]types.Quote
	err    error
}

// NewPriceCache creates a cache whose quotes live for ttl and may be served,
// flagged stale, for grace after that when the provider is unreachable
func NewPriceCache(source PriceSource, ttl, grace time.Duration) *PriceCache {
	if grace < ttl {
		grace = ttl
	}
	return &PriceCache{
		source:       source,
		fetchTimeout: time.Minute,
		fresh:        gocache.New(ttl, 2*ttl),
		stale:        gocache.New(grace, grace),
		inflight:     make(map[Pair]*priceCall),
	}
}

// Quote returns the price for a single pair. ok is false when the provider
// does not know the pair.
func (c *PriceCache) Quote(ctx context.Context, from, to string) (types.Quote, bool, error) {
	quotes, err := c.Quotes(ctx, []string{from}, []string{to})
	q, ok := quotes[Pair{From: strings.ToUpper(from), To: strings.ToUpper(to)}]
	if ok {
		return q, true, nil
	}
	return types.Quote{}, false, err
}

// Quotes returns every known pair of the cross product froms x tos. Pairs the
// provider did not return are absent. When the fetch fails, last known quotes
// are returned with Stale set and err reports the failure only if some
// requested pair could not be served at all.
func (c *PriceCache) Quotes(ctx context.Context, froms, tos []string) (map[Pair]types.Quote, error) {
	froms, tos = normalize(froms), normalize(tos)
	out := make(map[Pair]types.Quote, len(froms)*len(tos))

	var missing []Pair
	for _, f := range froms {
		for _, t := range tos {
			p := Pair{From: f, To: t}
			if v, found := c.fresh.Get(p.key()); found {
				metrics.CacheHits.WithLabelValues(priceCacheName).Inc()
				out[p] = v.(types.Quote)
				continue
			}
			metrics.CacheMisses.WithLabelValues(priceCacheName).Inc()
			missing = append(missing, p)
		}
	}

	if len(missing) == 0 {
		return out, nil
	}

	calls := c.join(ctx, missing)

	var unserved error
	for _, p := range missing {
		call := calls[p]
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-call.done:
		}

		if call.err == nil {
			if q, ok := call.quotes[p]; ok {
				out[p] = q
			}
			continue
		}

		v, found := c.stale.Get(p.key())
		if !found {
			unserved = call.err
			continue
		}
		q := v.(types.Quote)
		q.Stale = true
		out[p] = q
		log.WithError(call.err).Warnf("serving stale %s quote from %s", p.key(), q.FetchedAt.Format(time.RFC3339))
	}

	return out, unserved
}

// join attaches every missing pair to a fetch: one already in flight for that
// pair, or a new one started for all pairs nobody is fetching yet
func (c *PriceCache) join(ctx context.Context, missing []Pair) map[Pair]*priceCall {
	calls := make(map[Pair]*priceCall, len(missing))
	var own []Pair

	c.mu.Lock()
	for _, p := range missing {
		if call, ok := c.inflight[p]; ok {
			calls[p] = call
			continue
		}
		own = append(own, p)
	}
	if len(own) > 0 {
		call := &priceCall{done: make(chan struct{})}
		for _, p := range own {
			c.inflight[p] = call
			calls[p] = call
		}
		go c.fetch(context.WithoutCancel(ctx), call, own)
	}
	c.mu.Unlock()

	return calls
}

func (c *PriceCache) fetch(ctx context.Context, call *priceCall, pairs []Pair) {
	defer func() {
		if r := recover(); r != nil {
			call.err = errors.Errorf("price fetch panicked: %v", r)
		}
		c.mu.Lock()
		for _, p := range pairs {
			if c.inflight[p] == call {
				delete(c.inflight, p)
			}
		}
		c.mu.Unlock()
		close(call.done)
	}()

	fromSet := make(map[string]struct{}, len(pairs))
	toSet := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		fromSet[p.From] = struct{}{}
		toSet[p.To] = struct{}{}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	prices, err := c.source.FetchPrices(fetchCtx, keys(fromSet), keys(toSet))
	if err != nil {
		call.err = err
		return
	}

	now := time.Now()
	call.quotes = make(map[Pair]types.Quote)
	for from, quotes := range prices {
		for to, price := range quotes {
			p := Pair{From: from, To: to}
			q := types.Quote{From: from, To: to, Price: price, FetchedAt: now}
			c.fresh.SetDefault(p.key(), q)
			c.stale.SetDefault(p.key(), q)
			call.quotes[p] = q
		}
	}
}

func normalize(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
