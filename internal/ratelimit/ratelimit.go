package ratelimit

import (
	"context"
	"sync"
	"time"

	"cryptocompare-telegram-bot/internal/metrics"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrRateLimitExceeded is returned when no slot frees up within the allowed wait
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Clock abstracts time so tests can drive the window deterministically
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

// Config of a rolling window limiter
type Config struct {
	Count    int
	Period   time.Duration
	Blocking bool
	// MaxWait bounds how long Acquire may block. Zero means Period.
	MaxWait time.Duration
}

// Limiter allows at most Count calls in any rolling Period.
// Safe for concurrent use.
type Limiter struct {
	name  string
	cfg   Config
	clock Clock

	mu     sync.Mutex
	window []time.Time
}

// New creates a limiter with its own window
func New(name string, cfg Config, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock
	}
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = cfg.Period
	}
	return &Limiter{
		name:   name,
		cfg:    cfg,
		clock:  clock,
		window: make([]time.Time, 0, cfg.Count),
	}
}

// Acquire returns once a call slot is available and records the call.
// The caller must issue the guarded call right after a nil return.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := l.clock.Now()
	deadline := start.Add(l.cfg.MaxWait)

	for {
		wait, ok := l.tryAcquire()
		if ok {
			if waited := l.clock.Now().Sub(start); waited > 0 {
				metrics.RateLimitWait.WithLabelValues(l.name).Observe(waited.Seconds())
			}
			return nil
		}

		if !l.cfg.Blocking {
			metrics.RateLimitRejected.WithLabelValues(l.name).Inc()
			return errors.Wrapf(ErrRateLimitExceeded, "%s: %d calls per %s", l.name, l.cfg.Count, l.cfg.Period)
		}

		if l.clock.Now().Add(wait).After(deadline) {
			metrics.RateLimitRejected.WithLabelValues(l.name).Inc()
			return errors.Wrapf(ErrRateLimitExceeded, "%s: next slot in %s exceeds max wait %s", l.name, wait, l.cfg.MaxWait)
		}

		log.Debugf("rate limiter %s full, waiting %s", l.name, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// TryAcquire takes a slot without blocking
func (l *Limiter) TryAcquire() bool {
	_, ok := l.tryAcquire()
	return ok
}

// InWindow returns the number of calls recorded in the current window
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.clock.Now())
	return len(l.window)
}

// tryAcquire records a call if the window has room, otherwise returns how long
// until the oldest entry ages out.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)

	if len(l.window) < l.cfg.Count {
		l.window = append(l.window, now)
		return 0, true
	}

	return l.window[0].Add(l.cfg.Period).Sub(now), false
}

// prune drops entries older than Period. Must be called with mu held.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Period)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Limiter)
)

// ForEndpoint returns the limiter shared by every caller of the same upstream endpoint.
// The first caller's Config wins.
func ForEndpoint(endpoint string, cfg Config, clock Clock) *Limiter {
	registryMu.Lock()
	defer registryMu.Unlock()

	if l, ok := registry[endpoint]; ok {
		return l
	}
	l := New(endpoint, cfg, clock)
	registry[endpoint] = l
	return l
}
