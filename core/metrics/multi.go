package metrics

import (
	"errors"

	"github.com/kilianp07/lastmile/core/model"
)

// MultiSink fans records out to several sinks. Every sink is attempted and
// the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordAssignments(res []AssignmentResult) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordAssignments(res))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordRun(sum RunSummary) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(RunRecorder); ok {
			errs = append(errs, r.RecordRun(sum))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordAtRisk(a model.AtRiskAlert) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(AtRiskRecorder); ok {
			errs = append(errs, r.RecordAtRisk(a))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordTick(sum TickSummary) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(TickRecorder); ok {
			errs = append(errs, r.RecordTick(sum))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordDegraded(ev DegradedEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(DegradedRecorder); ok {
			errs = append(errs, r.RecordDegraded(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordFallback(ev FallbackEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(FallbackRecorder); ok {
			errs = append(errs, r.RecordFallback(ev))
		}
	}
	return errors.Join(errs...)
}
