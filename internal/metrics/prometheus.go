package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ExecuteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statchart_execute_duration_seconds",
			Help:    "Canonical query execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source", "query_type"},
	)

	ExecuteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statchart_execute_total",
			Help: "Total canonical queries executed",
		},
		[]string{"source", "status"},
	)

	FetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statchart_fetch_attempts_total",
			Help: "Upstream HTTP attempts by outcome",
		},
		[]string{"source", "outcome"},
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statchart_fetch_duration_seconds",
			Help:    "Upstream HTTP attempt duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statchart_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"tier"},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "statchart_cache_misses_total",
			Help: "Total cache misses across both tiers",
		},
	)

	CacheStoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statchart_cache_store_errors_total",
			Help: "Persistent cache tier failures absorbed by the cache",
		},
		[]string{"op"},
	)

	CacheExpiredDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "statchart_cache_expired_deleted_total",
			Help: "Expired cache entries removed by maintenance",
		},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statchart_breaker_state",
			Help: "Circuit breaker state per source (0 closed, 1 half-open, 2 open)",
		},
		[]string{"source"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ExecuteDuration)
		prometheus.MustRegister(ExecuteTotal)
		prometheus.MustRegister(FetchAttempts)
		prometheus.MustRegister(FetchDuration)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(CacheStoreErrors)
		prometheus.MustRegister(CacheExpiredDeleted)
		prometheus.MustRegister(BreakerState)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
