package metrics

import (
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

// AssignmentResult is one order placed on a vehicle.
type AssignmentResult struct {
	RequestID string
	OrderID   string
	VehicleID string
	PickupID  string
	Urgency   model.Urgency
	Score     float64
	Load      float64
	Time      time.Time
}

// MetricsSink records assignment results.
type MetricsSink interface {
	RecordAssignments(results []AssignmentResult) error
}

// RunSummary describes a complete optimisation run.
type RunSummary struct {
	RequestID       string
	Strategy        string
	VehiclesUsed    int
	VehiclesIdle    int
	Unassigned      int
	UtilizationRate float64
	TotalDistance   float64
	Degraded        model.Degraded
	Duration        time.Duration
	Time            time.Time
}

// RunRecorder records run summaries.
type RunRecorder interface {
	RecordRun(s RunSummary) error
}

// AtRiskRecorder records at-risk alerts.
type AtRiskRecorder interface {
	RecordAtRisk(a model.AtRiskAlert) error
}

// TickSummary describes a re-dispatch pass.
type TickSummary struct {
	Trigger    string
	Reassigned int
	AtRisk     int
	Deferred   int
	Duration   time.Duration
	Time       time.Time
}

// TickRecorder records re-dispatch passes.
type TickRecorder interface {
	RecordTick(s TickSummary) error
}

// DegradedEvent reports a collaborator replaced by a local default.
type DegradedEvent struct {
	RequestID string
	Component string
	Error     string
	Time      time.Time
}

// DegradedRecorder records degraded runs.
type DegradedRecorder interface {
	RecordDegraded(ev DegradedEvent) error
}

// FallbackEvent reports a run that switched to round-robin.
type FallbackEvent struct {
	RequestID string
	Strategy  string
	Error     string
	Time      time.Time
}

// FallbackRecorder records strategy fallbacks.
type FallbackRecorder interface {
	RecordFallback(ev FallbackEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordAssignments([]AssignmentResult) error { return nil }
func (NopSink) RecordRun(RunSummary) error                 { return nil }
func (NopSink) RecordAtRisk(model.AtRiskAlert) error       { return nil }
func (NopSink) RecordTick(TickSummary) error               { return nil }
func (NopSink) RecordDegraded(DegradedEvent) error         { return nil }
func (NopSink) RecordFallback(FallbackEvent) error         { return nil }
