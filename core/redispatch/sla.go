package redispatch

import (
	"math"
	"sort"
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

// SLAOrder describes one order close to or past its deadline.
type SLAOrder struct {
	OrderID          string    `json:"orderId"`
	VehicleID        string    `json:"vehicleId,omitempty"`
	Deadline         time.Time `json:"deadline"`
	EstimatedArrival time.Time `json:"estimatedArrival,omitempty"`
	RemainingMinutes float64   `json:"remainingMinutes"`
}

// SLAReport counts live orders by deadline health.
type SLAReport struct {
	At       time.Time  `json:"at"`
	OnTrack  int        `json:"onTrack"`
	AtRisk   int        `json:"atRisk"`
	Breached int        `json:"breached"`
	Pending  int        `json:"pending"`
	Orders   []SLAOrder `json:"orders"`
}

// SLAStatus classifies every routed and pending order at now. An order is
// breached once its deadline passed or its estimated arrival falls after
// the deadline, at risk when critical, and on track otherwise. Orders lists
// the at-risk and breached ones, tightest first.
func (e *Engine) SLAStatus(now time.Time) SLAReport {
	e.mu.RLock()
	type entry struct {
		order   model.DeliveryOrder
		vehicle string
		eta     time.Time
	}
	entries := make([]entry, 0, len(e.orders))
	for vid, r := range e.routes {
		for _, s := range r.Deliveries() {
			if o, ok := e.orders[s.OrderID]; ok {
				entries = append(entries, entry{order: o, vehicle: vid, eta: s.EstimatedArrival})
			}
		}
	}
	for id := range e.pending {
		if o, ok := e.orders[id]; ok {
			entries = append(entries, entry{order: o})
		}
	}
	pending := len(e.pending)
	e.mu.RUnlock()

	rep := SLAReport{At: now, Pending: pending, Orders: []SLAOrder{}}
	for _, en := range entries {
		a, err := e.classifier.Classify(en.order, now)
		if err != nil {
			continue
		}
		item := SLAOrder{
			OrderID:          en.order.ID,
			VehicleID:        en.vehicle,
			Deadline:         a.Deadline,
			EstimatedArrival: en.eta,
			RemainingMinutes: round2(a.RemainingMinutes),
		}
		switch {
		case a.RemainingMinutes < 0 || (!en.eta.IsZero() && en.eta.After(a.Deadline)):
			rep.Breached++
		case a.Urgency == model.UrgencyCritical:
			rep.AtRisk++
		default:
			rep.OnTrack++
			continue
		}
		rep.Orders = append(rep.Orders, item)
	}
	sort.Slice(rep.Orders, func(i, j int) bool {
		if rep.Orders[i].RemainingMinutes != rep.Orders[j].RemainingMinutes {
			return rep.Orders[i].RemainingMinutes < rep.Orders[j].RemainingMinutes
		}
		return rep.Orders[i].OrderID < rep.Orders[j].OrderID
	})
	return rep
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
