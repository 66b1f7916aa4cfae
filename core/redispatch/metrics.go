package redispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	passesTotal      *prometheus.CounterVec
	passLatency      prometheus.Histogram
	reassignedOrders prometheus.Counter
	deferredOrders   prometheus.Counter
	atRiskAlerts     prometheus.Counter
	pendingOrders    prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, prometheus.Histogram, prometheus.Counter, prometheus.Counter, prometheus.Counter, prometheus.Gauge) {
	passes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redispatch_passes_total",
			Help: "Number of re-dispatch passes",
		},
		[]string{"trigger"},
	)
	lat := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "redispatch_pass_duration_seconds",
			Help:    "Duration of re-dispatch passes",
			Buckets: prometheus.DefBuckets,
		},
	)
	moved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "redispatch_reassigned_total",
			Help: "Number of orders moved to another vehicle",
		},
	)
	deferred := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "redispatch_deferred_total",
			Help: "Number of orders deferred because a pass ran out of budget",
		},
	)
	risk := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "at_risk_alerts_total",
			Help: "Number of at-risk alerts raised for critical orders",
		},
	)
	pending := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_orders",
			Help: "Orders waiting for a vehicle after the last pass",
		},
	)
	return passes, lat, moved, deferred, risk, pending
}

func init() {
	passesTotal, passLatency, reassignedOrders, deferredOrders, atRiskAlerts, pendingOrders = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers re-dispatch metrics on the provided
// registry. If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(passesTotal, passLatency, reassignedOrders, deferredOrders, atRiskAlerts, pendingOrders)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	passesTotal, passLatency, reassignedOrders, deferredOrders, atRiskAlerts, pendingOrders = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
