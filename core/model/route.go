package model

import "time"

// StopType distinguishes pickup from delivery stops.
type StopType string

const (
	StopPickup   StopType = "pickup"
	StopDelivery StopType = "delivery"
)

// Stop is one visit along a route.
type Stop struct {
	Type     StopType `json:"type"`
	OrderID  string   `json:"orderId,omitempty"`
	Location Location `json:"location"`
	Load     float64  `json:"load,omitempty"`
	Urgency  Urgency  `json:"urgency,omitempty"`

	EstimatedArrival          time.Time `json:"estimatedArrival"`
	ArrivalTime               string    `json:"arrivalTime"`
	CumulativeDurationMinutes float64   `json:"cumulativeDurationMinutes"`
	DeltaMinutes              float64   `json:"deltaMinutes"`

	// Locked marks an order that was physically picked up and must stay on
	// this vehicle.
	Locked bool `json:"locked,omitempty"`
}

// ClusterInfo summarises how tight the deliveries of a route are.
type ClusterInfo struct {
	Density      float64 `json:"density"`
	AverageScore float64 `json:"averageScore"`
}

// Route is the ordered list of stops assigned to a vehicle.
type Route struct {
	VehicleID           string      `json:"vehicleId"`
	PickupID            string      `json:"pickupId"`
	Stops               []Stop      `json:"stops"`
	TotalLoad           float64     `json:"totalLoad"`
	TotalDistance       float64     `json:"totalDistance"`
	CapacityUtilization float64     `json:"capacityUtilization"`
	Cluster             ClusterInfo `json:"cluster"`
}

// Deliveries returns the delivery stops of the route in order.
func (r Route) Deliveries() []Stop {
	out := make([]Stop, 0, len(r.Stops))
	for _, s := range r.Stops {
		if s.Type == StopDelivery {
			out = append(out, s)
		}
	}
	return out
}

// DeliveryLoad sums the load of delivery stops.
func (r Route) DeliveryLoad() float64 {
	var total float64
	for _, s := range r.Stops {
		if s.Type == StopDelivery {
			total += s.Load
		}
	}
	return total
}

// HasOrder reports whether orderID is served by the route.
func (r Route) HasOrder(orderID string) bool {
	for _, s := range r.Stops {
		if s.Type == StopDelivery && s.OrderID == orderID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the route.
func (r Route) Clone() Route {
	c := r
	c.Stops = append([]Stop(nil), r.Stops...)
	return c
}
