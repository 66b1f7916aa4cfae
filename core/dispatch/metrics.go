package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	optimizeLatency   *prometheus.HistogramVec
	ordersAssigned    *prometheus.CounterVec
	ordersUnassigned  *prometheus.CounterVec
	strategyFallbacks prometheus.Counter
	degradedRuns      *prometheus.CounterVec
	fleetUtilization  prometheus.Gauge
	routePublishes    *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter, *prometheus.CounterVec, prometheus.Gauge, *prometheus.CounterVec) {
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optimize_duration_seconds",
			Help:    "Duration of optimisation runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)
	asn := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_assigned_total",
			Help: "Number of orders placed on a route",
		},
		[]string{"strategy", "urgency"},
	)
	un := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_unassigned_total",
			Help: "Number of orders left unassigned",
		},
		[]string{"reason"},
	)
	fb := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strategy_fallback_total",
			Help: "Number of runs that fell back to round-robin",
		},
	)
	deg := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "degraded_runs_total",
			Help: "Number of runs where a collaborator fell back to a local default",
		},
		[]string{"component"},
	)
	util := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_utilization_ratio",
			Help: "Share of vehicles used by the last optimisation run",
		},
	)
	pub := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_publish_total",
			Help: "Number of route notifications sent over MQTT",
		},
		[]string{"result"},
	)
	return lat, asn, un, fb, deg, util, pub
}

func init() {
	optimizeLatency, ordersAssigned, ordersUnassigned, strategyFallbacks, degradedRuns, fleetUtilization, routePublishes = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(optimizeLatency, ordersAssigned, ordersUnassigned, strategyFallbacks, degradedRuns, fleetUtilization, routePublishes)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	optimizeLatency, ordersAssigned, ordersUnassigned, strategyFallbacks, degradedRuns, fleetUtilization, routePublishes = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
