// Package eta annotates route stops with cumulative arrival estimates.
package eta

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/routing"
)

// Config holds ETA settings.
type Config struct {
	ServiceMinutes float64 `json:"service_minutes"`
	TimeLayout     string  `json:"time_layout"`
}

// SetDefaults applies a 5 minute service time and an HH:MM layout.
func (c *Config) SetDefaults() {
	if c.ServiceMinutes == 0 {
		c.ServiceMinutes = 5
	}
	if c.TimeLayout == "" {
		c.TimeLayout = "15:04"
	}
}

// Validate checks the service time.
func (c Config) Validate() error {
	if c.ServiceMinutes < 0 || math.IsNaN(c.ServiceMinutes) {
		return fmt.Errorf("eta: service_minutes must not be negative")
	}
	return nil
}

// Propagator computes arrival times along a route.
type Propagator struct {
	service time.Duration
	layout  string
	loc     *time.Location
}

// NewPropagator returns a Propagator rendering times in loc.
func NewPropagator(cfg Config, loc *time.Location) *Propagator {
	cfg.SetDefaults()
	if loc == nil {
		loc = time.UTC
	}
	return &Propagator{
		service: time.Duration(cfg.ServiceMinutes * float64(time.Minute)),
		layout:  cfg.TimeLayout,
		loc:     loc,
	}
}

// Propagate fills the timing fields of every stop of r and its total
// distance. The first stop is reached from origin at start, every later
// stop adds the service time of the previous one plus the travel leg.
func (p *Propagator) Propagate(ctx context.Context, legs *routing.Session, origin model.Location, start time.Time, r *model.Route) {
	var cumulative time.Duration
	var prevMinutes, distance float64
	from := origin
	for i := range r.Stops {
		s := &r.Stops[i]
		leg := legs.Leg(ctx, from, s.Location)
		travel := leg.Duration
		if travel < 0 {
			travel = 0
		}
		if i > 0 {
			cumulative += p.service
		}
		cumulative += travel
		distance += leg.DistanceKm

		minutes := round2(cumulative.Minutes())
		s.EstimatedArrival = start.Add(cumulative).Round(time.Second)
		s.ArrivalTime = s.EstimatedArrival.In(p.loc).Format(p.layout)
		s.CumulativeDurationMinutes = minutes
		s.DeltaMinutes = round2(minutes - prevMinutes)
		prevMinutes = minutes
		from = s.Location
	}
	r.TotalDistance = round2(distance)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
