package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Subscription lifecycle metrics
	SubscriptionsProvisionedTotal prometheus.Counter
	SubscriptionsExpiredTotal     prometheus.Counter
	SubscriptionsUpgradedTotal    prometheus.Counter

	// SubscriptionsActive is sampled periodically from the store
	SubscriptionsActive prometheus.Gauge

	// Quota metrics
	UsageAdmittedTotal prometheus.Counter
	UsageDeniedTotal   prometheus.Counter

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics on the given
// registry. A nil registry creates a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tally_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		SubscriptionsProvisionedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tally_subscriptions_provisioned_total",
				Help: "Free-plan subscriptions auto-provisioned",
			},
		),
		SubscriptionsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tally_subscriptions_expired_total",
				Help: "Subscriptions transitioned to expired",
			},
		),
		SubscriptionsUpgradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tally_subscriptions_upgraded_total",
				Help: "Successful plan changes",
			},
		),
		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_subscriptions_active",
				Help: "Currently active subscriptions",
			},
		),
		UsageAdmittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tally_usage_events_admitted_total",
				Help: "Usage events admitted under quota",
			},
		),
		UsageDeniedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tally_usage_events_denied_total",
				Help: "Usage events denied because the quota was exhausted",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_db_connections_active",
				Help: "Open database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_db_connections_idle",
				Help: "Idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_db_connections_wait_count",
				Help: "Total connections waited for",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SubscriptionsProvisionedTotal,
		m.SubscriptionsExpiredTotal,
		m.SubscriptionsUpgradedTotal,
		m.SubscriptionsActive,
		m.UsageAdmittedTotal,
		m.UsageDeniedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CollectDBStats copies connection pool statistics into the gauges.
// Call periodically or on scrape.
func (m *Metrics) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// statusRecorder wraps http.ResponseWriter to capture the response code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler wraps an HTTP handler with request count and
// duration metrics. The path label should be the route template, not the
// raw URL, to keep cardinality bounded.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
