package alert

import (
	"context"
	"time"

	"cryptocompare-telegram-bot/internal/cache"
	"cryptocompare-telegram-bot/internal/metrics"
	"cryptocompare-telegram-bot/internal/types"

	"github.com/StudioSol/set"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// PriceSource returns current quotes for a batch of pairs
type PriceSource interface {
	Quotes(ctx context.Context, froms, tos []string) (map[cache.Pair]types.Quote, error)
}

// Namer resolves the display name of a symbol
type Namer interface {
	SymbolName(ctx context.Context, symbol string) string
}

// Notifier delivers a fired alert
type Notifier interface {
	Notify(ctx context.Context, n types.Notification) error
}

// Evaluator checks stored thresholds against current prices. A threshold
// fires at most once: it is removed from the store before the notification
// goes out.
type Evaluator struct {
	store    *Store
	prices   PriceSource
	names    Namer
	notifier Notifier
	now      func() time.Time
}

func NewEvaluator(store *Store, prices PriceSource, names Namer, notifier Notifier) *Evaluator {
	return &Evaluator{
		store:    store,
		prices:   prices,
		names:    names,
		notifier: notifier,
		now:      time.Now,
	}
}

// Tick evaluates every stored threshold once and returns the number fired.
// Prices are fetched in one batch per quote currency; a failed batch only
// skips the thresholds quoted in that currency.
func (e *Evaluator) Tick(ctx context.Context) int {
	conditions := e.store.Snapshot()
	if len(conditions) == 0 {
		return 0
	}

	byQuote := make(map[string][]types.Condition)
	symbols := make(map[string]*set.LinkedHashSetString)
	quoteOrder := set.NewLinkedHashSetString()
	for _, c := range conditions {
		if _, ok := symbols[c.Quote]; !ok {
			symbols[c.Quote] = set.NewLinkedHashSetString()
		}
		symbols[c.Quote].Add(c.Symbol)
		quoteOrder.Add(c.Quote)
		byQuote[c.Quote] = append(byQuote[c.Quote], c)
	}

	fired := 0
	for quote := range quoteOrder.Iter() {
		var froms []string
		for symbol := range symbols[quote].Iter() {
			froms = append(froms, symbol)
		}

		quotes, err := e.prices.Quotes(ctx, froms, []string{quote})
		if err != nil {
			log.WithError(err).Warnf("alert evaluation: prices in %s unavailable, skipping %d alerts", quote, len(byQuote[quote]))
			if len(quotes) == 0 {
				continue
			}
		}

		for _, c := range byQuote[quote] {
			q, ok := quotes[cache.Pair{From: c.Symbol, To: c.Quote}]
			if !ok {
				log.Debugf("alert evaluation: no price for %s/%s", c.Symbol, c.Quote)
				continue
			}
			if q.Stale {
				log.Debugf("alert evaluation: %s/%s quote is stale, not evaluating", c.Symbol, c.Quote)
				continue
			}
			if e.fire(ctx, c, q) {
				fired++
			}
		}
	}

	if fired > 0 {
		log.Infof("alert evaluation: %d alerts fired", fired)
	}
	return fired
}

func (e *Evaluator) fire(ctx context.Context, c types.Condition, q types.Quote) bool {
	if !c.Op.Satisfied(decimal.NewFromFloat(q.Price), c.Target) {
		return false
	}

	removed, err := e.store.Remove(ctx, c)
	if err != nil {
		log.WithError(err).Errorf("alert evaluation: could not remove %s", c)
		return false
	}
	if !removed {
		// cleared or fired concurrently
		return false
	}

	metrics.AlertsFired.Inc()

	n := types.Notification{
		ChatID:      c.ChatID,
		Symbol:      c.Symbol,
		DisplayName: c.Symbol,
		Op:          c.Op,
		Target:      c.Target,
		Quote:       c.Quote,
		Price:       q.Price,
		FiredAt:     e.now(),
	}
	if e.names != nil {
		n.DisplayName = e.names.SymbolName(ctx, c.Symbol)
	}

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, n); err != nil {
			log.WithError(err).Errorf("alert notification to chat %d failed", c.ChatID)
		}
	}
	return true
}
