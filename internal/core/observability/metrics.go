package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"method", "route", "status"},
	)

	codecOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codec_operations_total",
			Help: "Filter codec operations by dialect and outcome.",
		},
		[]string{"op", "dialect", "outcome"},
	)

	catalogOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_operations_total",
			Help: "Filter catalog operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	storeOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_store_operation_duration_seconds",
			Help:    "Latency of catalog store backend calls.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	catalogCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_results_total",
			Help: "Catalog record cache results by outcome.",
		},
		[]string{"outcome"},
	)

	catalogEventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_events_consumed_total",
			Help: "Catalog change events read from the event topic by result.",
		},
		[]string{"result"},
	)

	catalogEventLagSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_event_lag_seconds",
			Help: "Age of the last consumed catalog change event.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		codecOps,
		catalogOps,
		storeOpDurationSeconds,
		catalogCacheResults,
		catalogEventsConsumed,
		catalogEventLagSeconds,
		buildInfo,
	}
}

func init() {
	Init(prometheus.DefaultRegisterer)
}

// Init registers the collectors with reg. Registering twice is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveCodecOp(op, dialect string, err error) {
	codecOps.WithLabelValues(op, dialect, outcome(err)).Inc()
}

func ObserveCatalogOp(op string, err error) {
	catalogOps.WithLabelValues(op, outcome(err)).Inc()
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	storeOpDurationSeconds.WithLabelValues(op, outcome(err)).Observe(durationSeconds)
}

func IncCacheHit() {
	catalogCacheResults.WithLabelValues("hit").Inc()
}

func IncCacheMiss() {
	catalogCacheResults.WithLabelValues("miss").Inc()
}

// ObserveCatalogEvent counts a consumed event; result is applied, skipped or error.
func ObserveCatalogEvent(result string) {
	catalogEventsConsumed.WithLabelValues(result).Inc()
}

func SetCatalogEventLagSeconds(v float64) {
	catalogEventLagSeconds.Set(v)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
