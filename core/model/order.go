package model

import (
	"math"
	"time"
)

// DeliveryOrder is a parcel to bring from a pickup point to a customer.
type DeliveryOrder struct {
	ID       string   `json:"id"`
	Location Location `json:"location"`
	Load     float64  `json:"load"`
	// Priority orders deliveries of equal urgency, higher first.
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
	SLAHours  float64   `json:"slaHours"`
	PickupID  string    `json:"pickupId"`
	Revenue   float64   `json:"revenue,omitempty"`
}

// Validate checks the order fields that do not depend on other entities.
func (o DeliveryOrder) Validate() error {
	switch {
	case o.ID == "":
		return &ValidationError{Field: "id", Reason: "missing"}
	case o.PickupID == "":
		return &ValidationError{OrderID: o.ID, Field: "pickupId", Reason: "missing"}
	case !(o.Load > 0) || math.IsInf(o.Load, 0):
		return &ValidationError{OrderID: o.ID, Field: "load", Reason: "must be positive"}
	case !o.Location.Valid():
		return &ValidationError{OrderID: o.ID, Field: "location", Reason: "out of range"}
	case o.CreatedAt.IsZero():
		return &ValidationError{OrderID: o.ID, Field: "createdAt", Reason: "missing"}
	case math.IsNaN(o.SLAHours) || o.SLAHours <= 0:
		return &ValidationError{OrderID: o.ID, Field: "slaHours", Reason: "must be positive"}
	}
	return nil
}
