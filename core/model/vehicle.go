package model

// Vehicle is a delivery vehicle available for assignment.
type Vehicle struct {
	ID       string   `json:"id"`
	Location Location `json:"location"`
	// Capacity is expressed in the same mass unit as DeliveryOrder.Load.
	Capacity float64 `json:"capacity"`
	Type     string  `json:"type,omitempty"`
	// DriverID defaults to the vehicle id when empty.
	DriverID string `json:"driverId,omitempty"`
	// CurrentRoute is the route the vehicle is already executing, if any.
	CurrentRoute *Route `json:"currentRoute,omitempty"`
}

// Driver returns the driver identifier used for target tracking.
func (v Vehicle) Driver() string {
	if v.DriverID != "" {
		return v.DriverID
	}
	return v.ID
}

// CommittedLoad returns the load already carried by the in-progress route.
func (v Vehicle) CommittedLoad() float64 {
	if v.CurrentRoute == nil {
		return 0
	}
	return v.CurrentRoute.DeliveryLoad()
}

// Validate checks the vehicle definition.
func (v Vehicle) Validate() error {
	switch {
	case v.ID == "":
		return &ValidationError{Field: "vehicle.id", Reason: "missing"}
	case !(v.Capacity > 0):
		return &ValidationError{Field: "vehicle.capacity", Reason: "must be positive", Subject: v.ID}
	case !v.Location.Valid():
		return &ValidationError{Field: "vehicle.location", Reason: "out of range", Subject: v.ID}
	}
	return nil
}

// PickupPoint is a depot or store where deliveries originate.
type PickupPoint struct {
	ID       string   `json:"id"`
	Location Location `json:"location"`
}
