// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scrub_gateway"

// Metrics groups the collectors reported by the workflows, verifier and gateways.
type Metrics struct {
	registry        *prometheus.Registry
	workflowResults *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	allowlist       *prometheus.CounterVec
	publishes       *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	dispatchBacklog prometheus.Gauge
}

// New registers a fresh set of collectors on their own registry. project is
// attached to every series as a constant label.
func New(project string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"project": project}

	m := &Metrics{
		registry: reg,
		workflowResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "workflow_results_total",
			Help:        "Scrub-file workflow invocations by operation and outcome kind.",
			ConstLabels: labels,
		}, []string{"operation", "outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "token_verifications_total",
			Help:        "Identity token verifications by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		allowlist: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "allowlist_refreshes_total",
			Help:        "Allowed-audience refreshes by result (ok, error, stale).",
			ConstLabels: labels,
		}, []string{"result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "notifications_published_total",
			Help:        "Processing notifications published by source and result.",
			ConstLabels: labels,
		}, []string{"source", "result"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "gateway_call_duration_seconds",
			Help:        "Latency of calls to the record store, blob store and queue.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"gateway", "op", "status"}),
		dispatchBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "notify_backlog",
			Help:        "Notifications waiting for a publish worker.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(m.workflowResults, m.verifications, m.allowlist, m.publishes, m.gatewayLatency, m.dispatchBacklog)
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return m
}

var (
	nopOnce sync.Once
	nop     *Metrics
)

// Nop returns a shared instance for tests and tools that never scrape.
func Nop() *Metrics {
	nopOnce.Do(func() { nop = New("test") })
	return nop
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) WorkflowResult(operation, outcome string) {
	if m == nil {
		return
	}
	m.workflowResults.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Verification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AllowlistRefresh(result string) {
	if m == nil {
		return
	}
	m.allowlist.WithLabelValues(result).Inc()
}

func (m *Metrics) Publish(source, result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(source, result).Inc()
}

// ObserveGateway records one gateway call.
func (m *Metrics) ObserveGateway(gateway, op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.gatewayLatency.WithLabelValues(gateway, op, status).Observe(d.Seconds())
}

func (m *Metrics) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.dispatchBacklog.Set(float64(n))
}
