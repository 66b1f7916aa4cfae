package model

import "time"

// DriverTarget holds the daily goals and progress of a driver.
type DriverTarget struct {
	DriverID          string    `json:"driverId"`
	TargetDeliveries  int       `json:"targetDeliveries"`
	TargetRevenue     float64   `json:"targetRevenue"`
	CurrentDeliveries int       `json:"currentDeliveries"`
	CurrentRevenue    float64   `json:"currentRevenue"`
	LastResetAt       time.Time `json:"lastResetAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// ScoreBreakdown lists the weighted cost components of a candidate
// assignment. Every component is a cost in [0,100], lower is better.
type ScoreBreakdown struct {
	VehicleToPickup    float64 `json:"vehicleToPickup"`
	PickupToDelivery   float64 `json:"pickupToDelivery"`
	ClusterDensity     float64 `json:"clusterDensity"`
	LoadBalance        float64 `json:"loadBalance"`
	RouteCompatibility float64 `json:"routeCompatibility"`
	Fairness           float64 `json:"fairness"`
	Total              float64 `json:"total"`
}

// AtRiskAlert signals a critical order that could not be served in the
// current cycle. It implements error so it can travel through error paths
// without being treated as fatal.
type AtRiskAlert struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"orderId"`
	PickupID         string    `json:"pickupId"`
	VehicleID        string    `json:"vehicleId,omitempty"`
	Urgency          Urgency   `json:"urgency"`
	Deadline         time.Time `json:"deadline"`
	RemainingMinutes float64   `json:"remainingMinutes"`
	Reason           string    `json:"reason"`
	RaisedAt         time.Time `json:"raisedAt"`
}

func (a AtRiskAlert) Error() string {
	return "order " + a.OrderID + " at risk: " + a.Reason
}
