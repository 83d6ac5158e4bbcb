// Package metrics exposes storefront counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "crate"

// Collector holds every metric the server records.
type Collector struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec

	cartOperations    *prometheus.CounterVec
	purchasesRecorded prometheus.Counter

	checkoutsCreated   prometheus.Counter
	checkoutsConfirmed *prometheus.CounterVec
	checkoutAmount     prometheus.Counter

	catalogBundles prometheus.Gauge
	activeSessions prometheus.GaugeFunc
}

// NewCollector creates and registers all metrics. sessions reports the live
// session count at scrape time and may be nil.
func NewCollector(logger *logrus.Logger, sessions func() int) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	c.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.cartOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_operations_total",
			Help:      "Cart operations by outcome code",
		},
		[]string{"operation", "result"},
	)
	c.purchasesRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "free_unlocks_total",
		Help:      "Free tracklists unlocked",
	})
	c.checkoutsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_sessions_created_total",
		Help:      "Checkout sessions opened with the payment processor",
	})
	c.checkoutsConfirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_confirmations_total",
			Help:      "Checkout confirmations by resulting state",
		},
		[]string{"state"},
	)
	c.checkoutAmount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_amount_minor_units_total",
		Help:      "Sum of amounts quoted on created checkout sessions",
	})
	c.catalogBundles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "catalog_bundles",
		Help:      "Tracklists loaded into the catalog",
	})

	c.registry.MustRegister(
		c.requestDuration,
		c.requestsTotal,
		c.cartOperations,
		c.purchasesRecorded,
		c.checkoutsCreated,
		c.checkoutsConfirmed,
		c.checkoutAmount,
		c.catalogBundles,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if sessions != nil {
		c.activeSessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Anonymous sessions held in memory",
		}, func() float64 { return float64(sessions()) })
		c.registry.MustRegister(c.activeSessions)
	}

	logger.WithField("namespace", namespace).Debug("Metrics collector initialized")
	return c
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveRequest records one served request.
func (c *Collector) ObserveRequest(method, route, status string, duration time.Duration) {
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	c.requestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordCartOperation counts a cart operation; result is "ok" or an error code.
func (c *Collector) RecordCartOperation(operation, result string) {
	c.cartOperations.WithLabelValues(operation, result).Inc()
}

// RecordUnlock counts a free unlock.
func (c *Collector) RecordUnlock() {
	c.purchasesRecorded.Inc()
}

// RecordCheckoutCreated counts a created session and its quoted amount.
func (c *Collector) RecordCheckoutCreated(amount int64) {
	c.checkoutsCreated.Inc()
	c.checkoutAmount.Add(float64(amount))
}

// RecordCheckoutConfirmation counts a confirmation attempt by state.
func (c *Collector) RecordCheckoutConfirmation(state string) {
	c.checkoutsConfirmed.WithLabelValues(state).Inc()
}

// SetCatalogSize records the number of loaded bundles.
func (c *Collector) SetCatalogSize(n int) {
	c.catalogBundles.Set(float64(n))
}
