// Package metrics defines the Prometheus collectors of chemforge-engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chemforge"

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so components can be built without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ProvisioningSteps    *prometheus.CounterVec
	ProvisioningDuration prometheus.Histogram

	RegistryLookups *prometheus.CounterVec
	RouterResolves  *prometheus.CounterVec
	RouterHandles   prometheus.Gauge
	Invalidations   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		ProvisioningSteps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_steps_total",
			Help:      "Provisioning step outcomes by stage",
		}, []string{"stage", "outcome"}),

		ProvisioningDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provisioning_duration_seconds",
			Help:      "Duration of complete provisioning runs in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		RegistryLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_lookups_total",
			Help:      "Tenant registry lookups by result (hit, miss, not_found)",
		}, []string{"result"}),

		RouterResolves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_resolves_total",
			Help:      "Connection router resolves by result",
		}, []string{"result"}),

		RouterHandles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "router_handles",
			Help:      "Live tenant connection handles",
		}),

		Invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_invalidations_total",
			Help:      "Tenant cache invalidations by source (local, broadcast)",
		}, []string{"source"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveProvisioningStep records the outcome of one provisioning step.
func (m *Metrics) ObserveProvisioningStep(stage, outcome string) {
	if m == nil {
		return
	}
	m.ProvisioningSteps.WithLabelValues(stage, outcome).Inc()
}

// ObserveProvisioningRun records the duration of a provisioning run.
func (m *Metrics) ObserveProvisioningRun(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProvisioningDuration.Observe(elapsed.Seconds())
}

// ObserveRegistryLookup records a registry lookup result.
func (m *Metrics) ObserveRegistryLookup(result string) {
	if m == nil {
		return
	}
	m.RegistryLookups.WithLabelValues(result).Inc()
}

// ObserveRouterResolve records a router resolve result.
func (m *Metrics) ObserveRouterResolve(result string) {
	if m == nil {
		return
	}
	m.RouterResolves.WithLabelValues(result).Inc()
}

// SetRouterHandles reports the number of live handles.
func (m *Metrics) SetRouterHandles(n int) {
	if m == nil {
		return
	}
	m.RouterHandles.Set(float64(n))
}

// ObserveInvalidation records a tenant cache invalidation.
func (m *Metrics) ObserveInvalidation(source string) {
	if m == nil {
		return
	}
	m.Invalidations.WithLabelValues(source).Inc()
}
