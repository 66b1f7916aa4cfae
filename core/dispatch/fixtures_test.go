package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kilianp07/lastmile/core/deadline"
	"github.com/kilianp07/lastmile/core/eta"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/routing"
	"github.com/kilianp07/lastmile/core/scoring"
	"github.com/kilianp07/lastmile/infra/logger"
)

// Wednesday morning, well inside business hours.
var testStart = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type failingMatrix struct{}

func (failingMatrix) GetLeg(context.Context, model.Location, model.Location) (routing.Leg, error) {
	return routing.Leg{}, errors.New("matrix unreachable")
}

func newTestScorer(t *testing.T) *scoring.Scorer {
	t.Helper()
	s, err := scoring.NewScorer(scoring.Config{})
	if err != nil {
		t.Fatalf("scorer: %v", err)
	}
	return s
}

func newTestManager(t *testing.T, svc routing.MatrixService) *DispatchManager {
	t.Helper()
	cls, err := deadline.NewClassifier(deadline.DefaultConfig())
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	router := routing.NewRouter(svc, routing.Config{}, logger.NopLogger{})
	prop := eta.NewPropagator(eta.Config{}, time.UTC)
	mgr, err := NewDispatchManager(Config{}, cls, newTestScorer(t), router, prop, nil, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	mgr.SetClock(func() time.Time { return testStart })
	return mgr
}

func order(id, pickup string, loc model.Location, load float64) model.DeliveryOrder {
	return model.DeliveryOrder{
		ID:        id,
		Location:  loc,
		Load:      load,
		CreatedAt: testStart.Add(-time.Hour),
		SLAHours:  24,
		PickupID:  pickup,
	}
}

func vehicle(id string, loc model.Location, capacity float64) model.Vehicle {
	return model.Vehicle{ID: id, Location: loc, Capacity: capacity, Type: "van"}
}

// scenarioRequest builds three pickups with 10, 8 and 5 orders and a fleet
// of five vans.
func scenarioRequest() model.Request {
	pickups := []model.PickupPoint{
		{ID: "p1", Location: model.Location{Lat: 48.8566, Lng: 2.3522}},
		{ID: "p2", Location: model.Location{Lat: 48.8738, Lng: 2.2950}},
		{ID: "p3", Location: model.Location{Lat: 48.8330, Lng: 2.4000}},
	}
	counts := []int{10, 8, 5}
	var orders []model.DeliveryOrder
	n := 0
	for i, p := range pickups {
		for k := 0; k < counts[i]; k++ {
			n++
			loc := model.Location{
				Lat: p.Location.Lat + float64(k%4)*0.004 - 0.006,
				Lng: p.Location.Lng + float64(k/4)*0.005 - 0.004,
			}
			o := order(fmt.Sprintf("o%02d", n), p.ID, loc, float64(5+n%4))
			o.Priority = n % 3
			orders = append(orders, o)
		}
	}
	start := testStart
	return model.Request{
		Vehicles: []model.Vehicle{
			vehicle("v1", model.Location{Lat: 48.8600, Lng: 2.3400}, 100),
			vehicle("v2", model.Location{Lat: 48.8700, Lng: 2.3000}, 100),
			vehicle("v3", model.Location{Lat: 48.8400, Lng: 2.3900}, 100),
			vehicle("v4", model.Location{Lat: 48.8500, Lng: 2.3600}, 100),
			vehicle("v5", model.Location{Lat: 48.8650, Lng: 2.3200}, 100),
		},
		PickupPoints:   pickups,
		DeliveryPoints: orders,
		Preferences:    model.Preferences{StartTime: &start},
	}
}

// checkInvariants verifies capacity, pickup consistency and monotonic
// arrival times of every route.
func checkInvariants(t *testing.T, req model.Request, resp model.Response) {
	t.Helper()
	capacity := map[string]float64{}
	for _, v := range req.Vehicles {
		capacity[v.ID] = v.Capacity
	}
	pickupOf := map[string]string{}
	for _, o := range req.DeliveryPoints {
		pickupOf[o.ID] = o.PickupID
	}
	seen := map[string]bool{}
	for _, r := range resp.Routes {
		if r.DeliveryLoad() > capacity[r.VehicleID]+1e-9 {
			t.Fatalf("route %s carries %.2f over capacity %.2f", r.VehicleID, r.DeliveryLoad(), capacity[r.VehicleID])
		}
		prev := -1.0
		for i, s := range r.Stops {
			if s.CumulativeDurationMinutes < prev {
				t.Fatalf("route %s stop %d goes back in time", r.VehicleID, i)
			}
			prev = s.CumulativeDurationMinutes
			if s.Type != model.StopDelivery {
				continue
			}
			if pickupOf[s.OrderID] != r.PickupID {
				t.Fatalf("order %s from %s on route of %s", s.OrderID, pickupOf[s.OrderID], r.PickupID)
			}
			if seen[s.OrderID] {
				t.Fatalf("order %s on two routes", s.OrderID)
			}
			seen[s.OrderID] = true
		}
	}
	for _, u := range resp.Unassigned {
		if seen[u.OrderID] {
			t.Fatalf("order %s both routed and unassigned", u.OrderID)
		}
		seen[u.OrderID] = true
	}
	for _, o := range req.DeliveryPoints {
		if !seen[o.ID] {
			t.Fatalf("order %s dropped", o.ID)
		}
	}
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}
