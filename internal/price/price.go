package price

import (
	"context"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"
)

// CatalogRefresher keeps the symbol catalog current
type CatalogRefresher interface {
	RefreshCatalog(ctx context.Context) error
}

// AlertTicker evaluates every stored alert once
type AlertTicker interface {
	Tick(ctx context.Context) int
}

// ChartPruner drops charts that are no longer near
type ChartPruner interface {
	Prune() int
}

// Updater drives the periodic refresh: catalog first, then alert evaluation
type Updater struct {
	catalog  CatalogRefresher
	alerts   AlertTicker
	charts   ChartPruner
	interval time.Duration
}

func NewUpdater(catalog CatalogRefresher, alerts AlertTicker, charts ChartPruner, interval time.Duration) *Updater {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Updater{catalog: catalog, alerts: alerts, charts: charts, interval: interval}
}

// Tick runs one refresh cycle and returns the number of fired alerts. A panic
// is logged and swallowed so the next tick still runs.
func (u *Updater) Tick(ctx context.Context) (fired int) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic recovered in price updater: %v\n%s", r, debug.Stack())
		}
	}()

	if err := u.catalog.RefreshCatalog(ctx); err != nil {
		log.WithError(err).Warn("symbol catalog refresh failed")
	}

	fired = u.alerts.Tick(ctx)

	if u.charts != nil {
		if n := u.charts.Prune(); n > 0 {
			log.Debugf("pruned %d charts", n)
		}
	}
	return fired
}

// Run ticks immediately and then every interval until ctx is done
func (u *Updater) Run(ctx context.Context) {
	log.Infof("price updater started, interval %s", u.interval)

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		u.Tick(ctx)

		select {
		case <-ctx.Done():
			log.Info("price updater stopped")
			return
		case <-ticker.C:
		}
	}
}
