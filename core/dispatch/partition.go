package dispatch

import (
	"math"
	"sort"

	"github.com/kilianp07/lastmile/core/model"
)

// slot is the working state of one vehicle during an assignment run.
type slot struct {
	vehicle   model.Vehicle
	pickupID  string
	committed float64
	group     []model.Location
	placed    int
}

func (s *slot) free() float64 { return s.vehicle.Capacity - s.committed }

func (s *slot) fits(load float64) bool { return load <= s.free() }

func (s *slot) commit(pickupID string, o model.DeliveryOrder) {
	s.pickupID = pickupID
	s.committed += o.Load
	s.group = append(s.group, o.Location)
	s.placed++
}

// newSlots returns one slot per vehicle sorted by id. A vehicle already
// serving deliveries starts bound to its route's pickup.
func newSlots(vehicles []model.Vehicle) []*slot {
	out := make([]*slot, 0, len(vehicles))
	for _, v := range vehicles {
		s := &slot{vehicle: v, committed: v.CommittedLoad()}
		if r := v.CurrentRoute; r != nil {
			if ds := r.Deliveries(); len(ds) > 0 {
				s.pickupID = r.PickupID
				for _, d := range ds {
					s.group = append(s.group, d.Location)
				}
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].vehicle.ID < out[j].vehicle.ID })
	return out
}

// partition binds free vehicles so each serves at most one pickup. Free
// vehicles first cover the pickup with the largest unmet demand, nearest
// vehicle first. Leftovers then go to pickups that still have more orders
// than vehicles. Orders no vehicle could carry are ignored.
func partition(slots []*slot, pickups map[string]model.PickupPoint, orders []model.DeliveryOrder) {
	var maxFree float64
	for _, s := range slots {
		maxFree = math.Max(maxFree, s.free())
	}
	demand := map[string]float64{}
	count := map[string]int{}
	for _, o := range orders {
		if o.Load > maxFree {
			continue
		}
		if _, ok := pickups[o.PickupID]; !ok {
			continue
		}
		demand[o.PickupID] += o.Load
		count[o.PickupID]++
	}
	ids := make([]string, 0, len(count))
	for id := range count {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	headroom := map[string]float64{}
	pool := map[string]int{}
	var free []*slot
	for _, s := range slots {
		if s.pickupID == "" {
			free = append(free, s)
			continue
		}
		headroom[s.pickupID] += s.free()
		pool[s.pickupID]++
	}

	bind := func(pid string) {
		at := pickups[pid].Location
		best := 0
		bestKm := model.HaversineKm(free[0].vehicle.Location, at)
		for i := 1; i < len(free); i++ {
			if km := model.HaversineKm(free[i].vehicle.Location, at); km < bestKm {
				best, bestKm = i, km
			}
		}
		s := free[best]
		free = append(free[:best], free[best+1:]...)
		s.pickupID = pid
		headroom[pid] += s.free()
		pool[pid]++
	}

	for len(free) > 0 {
		pid, worst := "", 1e-9
		for _, id := range ids {
			if unmet := demand[id] - headroom[id]; unmet > worst {
				pid, worst = id, unmet
			}
		}
		if pid == "" {
			break
		}
		bind(pid)
	}
	for len(free) > 0 {
		pid, ratio := "", 0.0
		for _, id := range ids {
			if count[id] <= pool[id] {
				continue
			}
			r := math.Inf(1)
			if pool[id] > 0 {
				r = float64(count[id]) / float64(pool[id])
			}
			if pid == "" || r > ratio {
				pid, ratio = id, r
			}
		}
		if pid == "" {
			break
		}
		bind(pid)
	}
}

func poolOf(slots []*slot, pickupID string) []*slot {
	var out []*slot
	for _, s := range slots {
		if s.pickupID == pickupID {
			out = append(out, s)
		}
	}
	return out
}
