package events

import (
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

// Assignment is one order placed on a vehicle.
type Assignment struct {
	OrderID   string
	VehicleID string
	PickupID  string
	Urgency   model.Urgency
	Score     float64
	Load      float64
}

// AssignmentEvent is published after a run commits its assignments.
// Previous holds the vehicle an order moved away from during re-dispatch.
type AssignmentEvent struct {
	RequestID   string
	Source      string
	Assignments []Assignment
	Previous    map[string]string
	Time        time.Time
}

// StrategyEvent is emitted when the manager picks an assignment strategy.
// Action can be "scored", "round_robin" or "round_robin_fallback".
type StrategyEvent struct {
	RequestID string
	Strategy  string
	Action    string
	Err       error
}

// DegradedEvent reports that a collaborator was replaced by a local default.
// Component is "routing" or "advisor".
type DegradedEvent struct {
	RequestID string
	Component string
	Err       error
	Time      time.Time
}

// AtRiskEvent wraps an alert for bus subscribers.
type AtRiskEvent struct {
	Alert model.AtRiskAlert
}

// TickEvent summarises one re-dispatch pass.
type TickEvent struct {
	Trigger    string
	Reassigned int
	AtRisk     int
	Deferred   int
	Duration   time.Duration
	Time       time.Time
}
