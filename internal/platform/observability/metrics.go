package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "storefront"

// Metrics holds the Prometheus collectors for HTTP traffic and order lifecycle events.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	orderOperations *prometheus.CounterVec
	deliveryLookups *prometheus.CounterVec
}

// NewMetrics registers collectors on a fresh registry so tests and servers do not share state.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		orderOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "order_operations_total",
			Help:      "Order lifecycle operations by outcome",
		}, []string{"operation", "outcome"}),
		deliveryLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_region_lookups_total",
			Help:      "Postal code region lookups by outcome",
		}, []string{"outcome"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := newResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		route := SanitizeRoute(routePattern(r))
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(recorder.Status())).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordOrderOperation counts an order lifecycle operation; outcome is "success" or an error kind.
func (m *Metrics) RecordOrderOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.orderOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveDeliveryLookup counts region lookups: hit, miss, fallback.
func (m *Metrics) ObserveDeliveryLookup(outcome string) {
	if m == nil {
		return
	}
	m.deliveryLookups.WithLabelValues(outcome).Inc()
}
