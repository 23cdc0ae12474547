package solvency

import (
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of a single pool.
type Metrics struct {
	opDuration *prometheus.HistogramVec
	opsTotal   *prometheus.CounterVec
	coverage   *prometheus.GaugeVec
}

// NewMetrics creates and registers the pool metrics. Pools sharing a registry
// must pass a registerer wrapped with a distinguishing const label.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solvency_pool_operation_duration_seconds",
			Help:    "Time taken by a pool operation, including collaborator calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solvency_pool_operations_total",
			Help: "Total number of pool operations, labeled by operation and result kind.",
		}, []string{"op", "result"}),
		coverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solvency_pool_asset_coverage_ratio",
			Help: "Coverage ratio (cash / liability) of each asset after the last committed operation.",
		}, []string{"token", "symbol"}),
	}
	reg.MustRegister(m.opDuration, m.opsTotal, m.coverage)
	return m
}

func (m *Metrics) observe(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	m.opDuration.WithLabelValues(op).Observe(d.Seconds())
	m.opsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) setCoverage(assets []*Asset) {
	for _, a := range assets {
		cov, err := a.Coverage()
		if err != nil {
			// Undefined without liability.
			m.coverage.DeleteLabelValues(a.token.Hex(), a.symbol)
			continue
		}
		m.coverage.WithLabelValues(a.token.Hex(), a.symbol).Set(wad.Float64(cov))
	}
}

func (m *Metrics) forget(a *Asset) {
	m.coverage.DeleteLabelValues(a.token.Hex(), a.symbol)
}
