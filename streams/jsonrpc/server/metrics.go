package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the Prometheus metrics for the pool API.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	subscriptions   prometheus.Gauge
	notifications   *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics for the pool API.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_rpc_request_duration_seconds",
			Help:    "Time taken to serve a pool RPC call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_rpc_requests_total",
			Help: "Total number of pool RPC calls, labeled by method and result.",
		}, []string{"method", "result"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pool_rpc_active_subscriptions",
			Help: "Number of open pool state subscriptions.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_rpc_notifications_total",
			Help: "Total number of pool state notifications sent, labeled by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.requestDuration, m.requestsTotal, m.subscriptions, m.notifications)
	return m
}

// observe is deferred by every call; errp may be nil for calls that cannot
// fail.
func (m *Metrics) observe(method string, start time.Time, errp *error) {
	result := "ok"
	if errp != nil && *errp != nil {
		result = "error"
		if e, ok := (*errp).(*Error); ok {
			result = e.kind
		}
	}
	m.requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	m.requestsTotal.WithLabelValues(method, result).Inc()
}

func (m *Metrics) notified(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) dropped(n int) {
	if n > 0 {
		m.notifications.WithLabelValues("dropped").Add(float64(n))
	}
}
