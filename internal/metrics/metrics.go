package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cryptocompare"

var (
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream HTTP attempts by endpoint and status code",
		},
		[]string{"endpoint", "code"},
	)
	UpstreamRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Retried upstream attempts",
		},
		[]string{"endpoint"},
	)
	RateLimitWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a rate limiter slot",
			Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 300},
		},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Calls refused by the rate limiter",
		},
		[]string{"limiter"},
	)
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by cache name",
		},
		[]string{"cache"},
	)
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses by cache name",
		},
		[]string{"cache"},
	)
	AlertsFired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "fired_total",
		Help:      "The total number of fired threshold alerts",
	})
	AlertsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "active",
		Help:      "The current number of stored thresholds",
	})
)

func init() {
	prometheus.MustRegister(UpstreamRequests)
	prometheus.MustRegister(UpstreamRetries)
	prometheus.MustRegister(RateLimitWait)
	prometheus.MustRegister(RateLimitRejected)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(AlertsFired)
	prometheus.MustRegister(AlertsActive)
}
