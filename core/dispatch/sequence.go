package dispatch

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/scoring"
)

// Sequence orders the stops of a route. Locked deliveries keep their
// position at the head. The pickup is visited next when open deliveries
// remain, then open deliveries follow by urgency rank, nearest neighbour
// inside each rank. Pickup stops in stops are discarded and rebuilt.
func Sequence(pickup model.PickupPoint, stops []model.Stop) []model.Stop {
	var locked, open []model.Stop
	for _, s := range stops {
		if s.Type != model.StopDelivery {
			continue
		}
		if s.Locked {
			locked = append(locked, s)
		} else {
			open = append(open, s)
		}
	}
	out := make([]model.Stop, 0, len(locked)+len(open)+1)
	out = append(out, locked...)
	if len(open) == 0 {
		return out
	}
	out = append(out, model.Stop{Type: model.StopPickup, Location: pickup.Location})

	sort.SliceStable(open, func(i, j int) bool {
		if open[i].Urgency != open[j].Urgency {
			return open[i].Urgency > open[j].Urgency
		}
		return open[i].OrderID < open[j].OrderID
	})
	pos := pickup.Location
	for start := 0; start < len(open); {
		end := start
		for end < len(open) && open[end].Urgency == open[start].Urgency {
			end++
		}
		group := open[start:end]
		for len(group) > 0 {
			best := 0
			bestKm := model.HaversineKm(pos, group[0].Location)
			for i := 1; i < len(group); i++ {
				km := model.HaversineKm(pos, group[i].Location)
				if km < bestKm || (km == bestKm && group[i].OrderID < group[best].OrderID) {
					best, bestKm = i, km
				}
			}
			next := group[best]
			out = append(out, next)
			pos = next.Location
			group = append(group[:best:best], group[best+1:]...)
		}
		start = end
	}
	return out
}

// Measure fills the load, capacity utilisation and cluster fields of r.
// Cluster.AverageScore is only replaced when scores are given.
func Measure(r *model.Route, capacity float64, s *scoring.Scorer, scores []float64) {
	r.TotalLoad = round2(r.DeliveryLoad())
	if capacity > 0 {
		r.CapacityUtilization = round2(r.TotalLoad / capacity * 100)
	}
	var pts []model.Location
	for _, d := range r.Deliveries() {
		pts = append(pts, d.Location)
	}
	r.Cluster.Density = round2(s.Density(pts))
	if len(scores) > 0 {
		r.Cluster.AverageScore = round2(stat.Mean(scores, nil))
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
