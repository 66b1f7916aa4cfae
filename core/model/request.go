package model

import (
	"fmt"
	"time"
)

// Preferences tune how a request is optimised.
type Preferences struct {
	WeightPreset  string             `json:"weightPreset,omitempty"`
	CustomWeights map[string]float64 `json:"customWeights,omitempty"`
	Strategy      string             `json:"strategy,omitempty"`
	UseAdvisor    bool               `json:"useAdvisor,omitempty"`
	// StartTime is the reference time used for urgency and ETAs. The
	// current time is used when nil.
	StartTime *time.Time `json:"startTime,omitempty"`
}

// Request is the input of one optimisation run.
type Request struct {
	Vehicles       []Vehicle       `json:"vehicles"`
	PickupPoints   []PickupPoint   `json:"pickupPoints"`
	DeliveryPoints []DeliveryOrder `json:"deliveryPoints"`
	Preferences    Preferences     `json:"preferences"`
}

// Validate checks request level preconditions. Order level problems are not
// fatal and are reported by SplitOrders instead.
func (r Request) Validate() error {
	if len(r.Vehicles) == 0 {
		return ErrNoVehicles
	}
	seen := make(map[string]struct{}, len(r.Vehicles))
	for _, v := range r.Vehicles {
		if err := v.Validate(); err != nil {
			return err
		}
		if _, dup := seen[v.ID]; dup {
			return &ValidationError{Subject: v.ID, Field: "vehicle.id", Reason: "duplicate"}
		}
		seen[v.ID] = struct{}{}
	}
	pickups := make(map[string]struct{}, len(r.PickupPoints))
	for _, p := range r.PickupPoints {
		if p.ID == "" {
			return &ValidationError{Field: "pickup.id", Reason: "missing"}
		}
		if !p.Location.Valid() {
			return &ValidationError{Subject: p.ID, Field: "pickup.location", Reason: "out of range"}
		}
		if _, dup := pickups[p.ID]; dup {
			return &ValidationError{Subject: p.ID, Field: "pickup.id", Reason: "duplicate"}
		}
		pickups[p.ID] = struct{}{}
	}
	return nil
}

// SplitOrders separates valid orders from rejected ones. Orders referencing
// an unknown pickup or duplicating an earlier id are rejected.
func (r Request) SplitOrders() ([]DeliveryOrder, []Unassigned) {
	pickups := make(map[string]struct{}, len(r.PickupPoints))
	for _, p := range r.PickupPoints {
		pickups[p.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(r.DeliveryPoints))
	valid := make([]DeliveryOrder, 0, len(r.DeliveryPoints))
	var rejected []Unassigned
	for _, o := range r.DeliveryPoints {
		err := o.Validate()
		if err == nil {
			if _, ok := pickups[o.PickupID]; !ok {
				err = &ValidationError{OrderID: o.ID, Field: "pickupId", Reason: fmt.Sprintf("unknown pickup %q", o.PickupID)}
			} else if _, dup := seen[o.ID]; dup {
				err = &ValidationError{OrderID: o.ID, Field: "id", Reason: "duplicate"}
			}
		}
		if err != nil {
			rejected = append(rejected, NewUnassigned(o.ID, err))
			continue
		}
		seen[o.ID] = struct{}{}
		valid = append(valid, o)
	}
	return valid, rejected
}

// Unassigned describes an order that could not be placed on any route.
type Unassigned struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

// NewUnassigned builds an Unassigned entry from the error that caused it.
func NewUnassigned(orderID string, err error) Unassigned {
	return Unassigned{OrderID: orderID, Reason: ReasonFor(err), Detail: err.Error()}
}

// Summary aggregates fleet usage for a response.
type Summary struct {
	VehiclesUsed          int     `json:"vehiclesUsed"`
	VehiclesIdle          int     `json:"vehiclesIdle"`
	UtilizationRate       float64 `json:"utilizationRate"`
	TotalLoad             float64 `json:"totalLoad"`
	TotalDistance         float64 `json:"totalDistance"`
	AverageLoadPerVehicle float64 `json:"averageLoadPerVehicle"`
	UnassignedCount       int     `json:"unassignedCount"`
	Strategy              string  `json:"strategy"`
}

// Degraded flags the collaborators that fell back during a run.
type Degraded struct {
	Routing          bool `json:"routing"`
	Advisor          bool `json:"advisor"`
	StrategyFallback bool `json:"strategyFallback"`
}

// AdvisorInfo records which advisory provider influenced the run.
type AdvisorInfo struct {
	Provider string `json:"provider"`
	Preset   string `json:"preset,omitempty"`
}

// Response is the output of one optimisation run.
type Response struct {
	RequestID  string       `json:"requestId"`
	Routes     []Route      `json:"routes"`
	Unassigned []Unassigned `json:"unassigned"`
	Summary    Summary      `json:"summary"`
	Degraded   Degraded     `json:"degraded"`
	Advisor    *AdvisorInfo `json:"advisor,omitempty"`
}
