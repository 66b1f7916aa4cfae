// Package scoring computes the five factor cost of assigning a delivery to a
// vehicle. All components are normalised to [0,100] and lower is better.
package scoring

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/routing"
)

// Candidate is a (vehicle, pickup, delivery) triple to score.
type Candidate struct {
	Vehicle model.Vehicle
	Pickup  model.PickupPoint
	Order   model.DeliveryOrder
	// CommittedLoad is the load the vehicle already carries or was given
	// earlier in the run.
	CommittedLoad float64
	// Group holds the delivery locations already grouped with this vehicle
	// at this pickup.
	Group []model.Location
	// DriverProgress is the driver's capped mean progress in [0,1].
	DriverProgress float64
}

// Scorer evaluates candidates. It is immutable and safe for concurrent use.
type Scorer struct {
	cfg     Config
	weights Weights
}

// NewScorer validates cfg, including its weights, and returns a Scorer.
func NewScorer(cfg Config) (*Scorer, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w, _ := cfg.Weights()
	return &Scorer{cfg: cfg, weights: w}, nil
}

// Weights returns the active weight vector.
func (s *Scorer) Weights() Weights { return s.weights }

// Config returns the effective configuration.
func (s *Scorer) Config() Config { return s.cfg }

// WithWeights returns a copy of the scorer using w.
func (s *Scorer) WithWeights(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	cp := *s
	cp.weights = w
	return &cp, nil
}

// Score computes the cost breakdown of c. Vehicles that cannot absorb the
// order are rejected with a *model.CapacityExceededError before any other
// computation.
func (s *Scorer) Score(ctx context.Context, legs *routing.Session, c Candidate) (model.ScoreBreakdown, error) {
	capacity := c.Vehicle.Capacity
	free := capacity - c.CommittedLoad
	if free <= 0 || c.Order.Load > free {
		return model.ScoreBreakdown{}, &model.CapacityExceededError{OrderID: c.Order.ID, Load: c.Order.Load, Available: math.Max(0, free)}
	}
	util := (c.CommittedLoad + c.Order.Load) / capacity
	loadCost, excluded := s.cfg.LoadTiers.Penalty(util)
	if excluded {
		return model.ScoreBreakdown{}, &model.CapacityExceededError{OrderID: c.Order.ID, Load: c.Order.Load, Available: free}
	}

	toPickup := legs.Leg(ctx, c.Vehicle.Location, c.Pickup.Location)
	toDelivery := legs.Leg(ctx, c.Pickup.Location, c.Order.Location)

	b := model.ScoreBreakdown{
		VehicleToPickup:    s.distanceCost(toPickup.DistanceKm),
		PickupToDelivery:   s.distanceCost(toDelivery.DistanceKm),
		ClusterDensity:     100 - s.Density(append(append([]model.Location(nil), c.Group...), c.Order.Location)),
		LoadBalance:        loadCost,
		RouteCompatibility: s.compatibilityCost(c, free),
		Fairness:           s.cfg.FairnessBias * clamp01(c.DriverProgress),
	}
	w := s.weights
	b.Total = w.VehicleToPickup*b.VehicleToPickup +
		w.PickupToDelivery*b.PickupToDelivery +
		w.ClusterDensity*b.ClusterDensity +
		w.LoadBalance*b.LoadBalance +
		w.RouteCompatibility*b.RouteCompatibility +
		b.Fairness
	if math.IsNaN(b.Total) || math.IsInf(b.Total, 0) {
		return model.ScoreBreakdown{}, fmt.Errorf("scoring: non-finite score for vehicle %s order %s", c.Vehicle.ID, c.Order.ID)
	}
	return b, nil
}

func (s *Scorer) distanceCost(km float64) float64 {
	return clamp(km / s.cfg.DistanceScaleKm * 100)
}

// Density returns max(0, 100 - avgDistanceKm*k) for the points around their
// centroid. A single point is its own centroid and scores 100.
func (s *Scorer) Density(points []model.Location) float64 {
	if len(points) == 0 {
		return 100
	}
	lats := make([]float64, len(points))
	lngs := make([]float64, len(points))
	for i, p := range points {
		lats[i], lngs[i] = p.Lat, p.Lng
	}
	centroid := model.Location{Lat: stat.Mean(lats, nil), Lng: stat.Mean(lngs, nil)}
	dists := make([]float64, len(points))
	for i, p := range points {
		dists[i] = model.HaversineKm(centroid, p)
	}
	return math.Max(0, 100-stat.Mean(dists, nil)*s.cfg.DensityFactor)
}

// compatibilityCost is 100 minus a continuation bonus proportional to the
// headroom left after the order, granted only when the vehicle's current
// route starts from the same pickup.
func (s *Scorer) compatibilityCost(c Candidate, free float64) float64 {
	r := c.Vehicle.CurrentRoute
	if r == nil || r.PickupID != c.Pickup.ID {
		return 100
	}
	headroom := (free - c.Order.Load) / c.Vehicle.Capacity
	return clamp(100 - 100*headroom)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
