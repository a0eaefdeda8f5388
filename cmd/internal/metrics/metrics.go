// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcadmin"

// Metrics groups the dashboard collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	authOps       *prometheus.CounterVec
	authDuration  *prometheus.HistogramVec
	guardDenied   *prometheus.CounterVec
	rpcCalls      *prometheus.CounterVec
	rpcDuration   *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	wsConnections prometheus.Gauge
	clients       prometheus.GaugeFunc
}

// New registers all collectors. clientCount reports live session stores and may be nil.
func New(clientCount func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Session pipeline operations by op and outcome.",
		}, []string{"op", "outcome"}),
		authDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "operation_duration_seconds",
			Help:      "Session pipeline round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		guardDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "denied_total",
			Help:      "Requests denied by the route guard, by method class.",
		}, []string{"kind"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "rpc_calls_total",
			Help:      "JSON-RPC calls to the management process.",
		}, []string{"method", "outcome"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "rpc_duration_seconds",
			Help:      "JSON-RPC call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by status class.",
		}, []string{"class"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open realtime WebSocket connections.",
		}),
	}

	reg.MustRegister(m.authOps, m.authDuration, m.guardDenied, m.rpcCalls, m.rpcDuration, m.httpRequests, m.wsConnections)

	if clientCount != nil {
		m.clients = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "clients",
			Help:      "Client session stores held in memory.",
		}, func() float64 { return float64(clientCount()) })
		reg.MustRegister(m.clients)
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveAuth records one pipeline operation.
func (m *Metrics) ObserveAuth(op, outcome string, elapsed time.Duration) {
	m.authOps.WithLabelValues(op, outcome).Inc()
	m.authDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// GuardDenied counts one guard denial. kind is "redirect" or "unauthorized".
func (m *Metrics) GuardDenied(kind string) {
	m.guardDenied.WithLabelValues(kind).Inc()
}

// ObserveRPC records one management call. Its signature matches manager.Observer.
func (m *Metrics) ObserveRPC(method, outcome string, elapsed time.Duration) {
	m.rpcCalls.WithLabelValues(method, outcome).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// HTTPRequest counts a finished request by status class ("2xx", "4xx", ...).
func (m *Metrics) HTTPRequest(class string) {
	m.httpRequests.WithLabelValues(class).Inc()
}

// WSConnected and WSDisconnected track open realtime connections.
func (m *Metrics) WSConnected()    { m.wsConnections.Inc() }
func (m *Metrics) WSDisconnected() { m.wsConnections.Dec() }
