package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/model"
)

// PromSink exports assignment records as Prometheus metrics.
type PromSink struct {
	assignments *prometheus.CounterVec
	scores      *prometheus.HistogramVec
	runVehicles *prometheus.GaugeVec
	atRisk      *prometheus.CounterVec
	ticks       *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	fallbacks   prometheus.Counter
}

// NewPromSink registers the sink collectors on the default registerer. The
// HTTP server exposes them on Config.PrometheusPath.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// register registers c or returns the collector already registered under
// the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.assignments, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vehicle_assignments_total",
		Help: "Orders assigned per vehicle and pickup",
	}, []string{"vehicle_id", "pickup_id"})); err != nil {
		return nil, err
	}
	if s.scores, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assignment_score",
		Help:    "Total cost of winning candidates",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	}, []string{"urgency"})); err != nil {
		return nil, err
	}
	if s.runVehicles, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "run_vehicles",
		Help: "Vehicles used and idle in the last optimisation run",
	}, []string{"state"})); err != nil {
		return nil, err
	}
	if s.atRisk, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "at_risk_orders_total",
		Help: "Critical orders reported at risk",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if s.ticks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redispatch_moves_total",
		Help: "Orders moved by re-dispatch passes",
	}, []string{"trigger"})); err != nil {
		return nil, err
	}
	if s.degraded, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "degraded_events_total",
		Help: "Collaborators replaced by a local default",
	}, []string{"component"})); err != nil {
		return nil, err
	}
	if s.fallbacks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strategy_fallback_events_total",
		Help: "Runs that switched to round-robin",
	})); err != nil {
		return nil, err
	}
	return s, nil
}

// RecordAssignments counts each order per vehicle and observes its score.
func (s *PromSink) RecordAssignments(res []coremetrics.AssignmentResult) error {
	for _, r := range res {
		s.assignments.WithLabelValues(r.VehicleID, r.PickupID).Inc()
		s.scores.WithLabelValues(r.Urgency.String()).Observe(r.Score)
	}
	return nil
}

// RecordRun sets the fleet usage gauges.
func (s *PromSink) RecordRun(sum coremetrics.RunSummary) error {
	s.runVehicles.WithLabelValues("used").Set(float64(sum.VehiclesUsed))
	s.runVehicles.WithLabelValues("idle").Set(float64(sum.VehiclesIdle))
	return nil
}

func (s *PromSink) RecordAtRisk(a model.AtRiskAlert) error {
	s.atRisk.WithLabelValues(a.Reason).Inc()
	return nil
}

func (s *PromSink) RecordTick(sum coremetrics.TickSummary) error {
	s.ticks.WithLabelValues(sum.Trigger).Add(float64(sum.Reassigned))
	return nil
}

func (s *PromSink) RecordDegraded(ev coremetrics.DegradedEvent) error {
	s.degraded.WithLabelValues(ev.Component).Inc()
	return nil
}

func (s *PromSink) RecordFallback(coremetrics.FallbackEvent) error {
	s.fallbacks.Inc()
	return nil
}
