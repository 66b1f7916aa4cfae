package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/routing"
	"github.com/kilianp07/lastmile/core/scoring"
)

// Input is the material of one assignment run. Orders must already be
// validated and classified.
type Input struct {
	Vehicles []model.Vehicle
	Pickups  []model.PickupPoint
	Orders   []model.DeliveryOrder
	Urgency  map[string]model.Urgency
	// Progress maps driver ids to their capped mean progress.
	Progress map[string]float64
}

// Placement records one order committed to a vehicle.
type Placement struct {
	Order     model.DeliveryOrder
	VehicleID string
	PickupID  string
	Urgency   model.Urgency
	Score     model.ScoreBreakdown
}

// Outcome is the result of a run. Placements are in decision order.
type Outcome struct {
	Strategy   Strategy
	Placements []Placement
	Unassigned []model.Unassigned
}

// Assigner greedily places orders on vehicles.
type Assigner struct {
	scorer *scoring.Scorer
	log    logger.Logger
	fair   FairShare
}

// AssignerOption configures an Assigner.
type AssignerOption func(*Assigner)

// WithFairShare sets the fair share tier of the scored strategy. The
// default is enabled with no slack.
func WithFairShare(f FairShare) AssignerOption {
	return func(a *Assigner) { a.fair = f }
}

// NewAssigner returns an Assigner using s for the scored strategy.
func NewAssigner(s *scoring.Scorer, log logger.Logger, opts ...AssignerOption) *Assigner {
	a := &Assigner{scorer: s, log: log}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SortOrders sorts orders critical first, then by descending priority,
// creation time and id.
func SortOrders(orders []model.DeliveryOrder, urgency map[string]model.Urgency) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if ua, ub := urgency[a.ID], urgency[b.ID]; ua != ub {
			return ua > ub
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Assign places every order of in using strategy. Orders no vehicle can
// absorb are reported as unassigned. Any other failure aborts the run.
func (a *Assigner) Assign(ctx context.Context, legs *routing.Session, strategy Strategy, in Input) (Outcome, error) {
	pickups := make(map[string]model.PickupPoint, len(in.Pickups))
	for _, p := range in.Pickups {
		pickups[p.ID] = p
	}
	slots := newSlots(in.Vehicles)
	partition(slots, pickups, in.Orders)

	byPickup := map[string][]model.DeliveryOrder{}
	for _, o := range in.Orders {
		byPickup[o.PickupID] = append(byPickup[o.PickupID], o)
	}
	pids := make([]string, 0, len(byPickup))
	for id := range byPickup {
		pids = append(pids, id)
	}
	sort.Strings(pids)

	out := Outcome{Strategy: strategy}
	cursor := map[string]int{}
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		orders := byPickup[pid]
		SortOrders(orders, in.Urgency)
		pickup, ok := pickups[pid]
		for _, o := range orders {
			var (
				p   Placement
				err error
			)
			switch {
			case !ok:
				err = &model.ValidationError{OrderID: o.ID, Field: "pickupId", Reason: fmt.Sprintf("unknown pickup %q", pid)}
			case strategy == StrategyRoundRobin:
				p, err = a.roundRobin(slots, pickup, o, cursor)
			default:
				p, err = a.scored(ctx, legs, slots, pickup, o, len(orders), in.Progress)
			}
			if err != nil {
				var ce *model.CapacityExceededError
				var ve *model.ValidationError
				if errors.As(err, &ce) || errors.As(err, &ve) {
					a.log.Debugf("dispatch: order %s unassigned: %v", o.ID, err)
					out.Unassigned = append(out.Unassigned, model.NewUnassigned(o.ID, err))
					continue
				}
				return Outcome{}, fmt.Errorf("assign %s: %w", o.ID, err)
			}
			p.Urgency = in.Urgency[o.ID]
			out.Placements = append(out.Placements, p)
		}
	}
	return out, nil
}

// scored tries the pool vehicles still under their fair share (unless
// disabled), then the whole pool, then free vehicles. The first tier with a
// feasible vehicle wins and the lowest total inside it is taken.
func (a *Assigner) scored(ctx context.Context, legs *routing.Session, slots []*slot, pickup model.PickupPoint, o model.DeliveryOrder, total int, progress map[string]float64) (Placement, error) {
	pool := poolOf(slots, pickup.ID)
	var under []*slot
	if share := a.fair.Share(total, len(pool)); share > 0 {
		for _, s := range pool {
			if s.placed < share {
				under = append(under, s)
			}
		}
	}
	var largest float64
	for _, tier := range [][]*slot{under, pool, poolOf(slots, "")} {
		var (
			best *slot
			bd   model.ScoreBreakdown
		)
		for _, s := range tier {
			b, err := a.scorer.Score(ctx, legs, scoring.Candidate{
				Vehicle:        s.vehicle,
				Pickup:         pickup,
				Order:          o,
				CommittedLoad:  s.committed,
				Group:          s.group,
				DriverProgress: progress[s.vehicle.Driver()],
			})
			if err != nil {
				var ce *model.CapacityExceededError
				if errors.As(err, &ce) {
					largest = math.Max(largest, s.free())
					continue
				}
				return Placement{}, err
			}
			if best == nil || b.Total < bd.Total {
				best, bd = s, b
			}
		}
		if best != nil {
			best.commit(pickup.ID, o)
			return Placement{Order: o, VehicleID: best.vehicle.ID, PickupID: pickup.ID, Score: bd}, nil
		}
	}
	return Placement{}, &model.CapacityExceededError{OrderID: o.ID, Load: o.Load, Available: math.Max(0, largest)}
}

// roundRobin gives the order to the first pool vehicle at or after the
// pickup's cursor that fits, spilling over to free vehicles in id order.
func (a *Assigner) roundRobin(slots []*slot, pickup model.PickupPoint, o model.DeliveryOrder, cursor map[string]int) (Placement, error) {
	pool := poolOf(slots, pickup.ID)
	var largest float64
	for k := range pool {
		i := (cursor[pickup.ID] + k) % len(pool)
		s := pool[i]
		if s.fits(o.Load) {
			cursor[pickup.ID] = i + 1
			s.commit(pickup.ID, o)
			return Placement{Order: o, VehicleID: s.vehicle.ID, PickupID: pickup.ID}, nil
		}
		largest = math.Max(largest, s.free())
	}
	for _, s := range poolOf(slots, "") {
		if s.fits(o.Load) {
			s.commit(pickup.ID, o)
			return Placement{Order: o, VehicleID: s.vehicle.ID, PickupID: pickup.ID}, nil
		}
		largest = math.Max(largest, s.free())
	}
	return Placement{}, &model.CapacityExceededError{OrderID: o.ID, Load: o.Load, Available: math.Max(0, largest)}
}
