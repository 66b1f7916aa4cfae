package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/lastmile/core/advisor"
	"github.com/kilianp07/lastmile/core/dispatch/logging"
	"github.com/kilianp07/lastmile/core/events"
	"github.com/kilianp07/lastmile/core/model"
	vehiclestatus "github.com/kilianp07/lastmile/core/vehiclestatus"
	"github.com/kilianp07/lastmile/infra/logger"
	"github.com/kilianp07/lastmile/internal/eventbus"
)

func TestOptimize_Scenario(t *testing.T) {
	mgr := newTestManager(t, nil)
	req := scenarioRequest()
	resp, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)

	checkInvariants(t, req, resp)
	assert.Empty(t, resp.Unassigned)
	assert.GreaterOrEqual(t, resp.Summary.VehiclesUsed, 4)
	assert.Equal(t, 23, countDeliveries(resp))
	for _, r := range resp.Routes {
		require.NotEmpty(t, r.Stops)
		assert.Equal(t, model.StopPickup, r.Stops[0].Type)
		for i := 1; i < len(r.Stops); i++ {
			if !r.Stops[i].EstimatedArrival.After(r.Stops[i-1].EstimatedArrival) {
				t.Fatalf("route %s: arrival %d not after %d", r.VehicleID, i, i-1)
			}
		}
		assert.Greater(t, r.CapacityUtilization, 0.0)
		assert.Greater(t, r.TotalDistance, 0.0)
	}
	assert.Equal(t, "scored", resp.Summary.Strategy)
	assert.False(t, resp.Degraded.Routing)
}

func countDeliveries(resp model.Response) int {
	n := 0
	for _, r := range resp.Routes {
		n += len(r.Deliveries())
	}
	return n
}

func TestOptimize_Deterministic(t *testing.T) {
	mgr := newTestManager(t, nil)
	req := scenarioRequest()
	a, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	b, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	assert.Equal(t, string(ja), string(jb))
	assert.NotEmpty(t, a.RequestID)
}

func TestOptimize_StartTimePinsOutput(t *testing.T) {
	mgr := newTestManager(t, nil)
	pinned := scenarioRequest()
	a, err := mgr.Optimize(context.Background(), pinned)
	require.NoError(t, err)
	mgr.SetClock(func() time.Time { return testStart.Add(37 * time.Minute) })
	b, err := mgr.Optimize(context.Background(), pinned)
	require.NoError(t, err)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	assert.Equal(t, string(ja), string(jb))

	// without a start time the arrivals follow the clock
	open := scenarioRequest()
	open.Preferences.StartTime = nil
	mgr.SetClock(func() time.Time { return testStart })
	c, err := mgr.Optimize(context.Background(), open)
	require.NoError(t, err)
	mgr.SetClock(func() time.Time { return testStart.Add(37 * time.Minute) })
	d, err := mgr.Optimize(context.Background(), open)
	require.NoError(t, err)
	assert.Equal(t, c.RequestID, d.RequestID)
	require.NotEmpty(t, c.Routes)
	assert.Equal(t, 37*time.Minute, d.Routes[0].Stops[0].EstimatedArrival.Sub(c.Routes[0].Stops[0].EstimatedArrival))
}

func TestOptimize_AtLeastTwoVehicles(t *testing.T) {
	mgr := newTestManager(t, nil)
	p := model.PickupPoint{ID: "p1", Location: model.Location{Lat: 40.0, Lng: -3.7}}
	start := testStart
	req := model.Request{
		Vehicles: []model.Vehicle{
			vehicle("a", model.Location{Lat: 40.001, Lng: -3.7}, 50),
			vehicle("b", model.Location{Lat: 40.05, Lng: -3.75}, 50),
			vehicle("c", model.Location{Lat: 40.1, Lng: -3.8}, 50),
		},
		PickupPoints: []model.PickupPoint{p},
		DeliveryPoints: []model.DeliveryOrder{
			order("o1", "p1", model.Location{Lat: 40.01, Lng: -3.70}, 1),
			order("o2", "p1", model.Location{Lat: 40.01, Lng: -3.71}, 1),
			order("o3", "p1", model.Location{Lat: 40.02, Lng: -3.70}, 1),
		},
		Preferences: model.Preferences{StartTime: &start},
	}
	resp, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	checkInvariants(t, req, resp)
	assert.GreaterOrEqual(t, resp.Summary.VehiclesUsed, 2)
}

func TestOptimize_OversizeOrder(t *testing.T) {
	mgr := newTestManager(t, nil)
	req := scenarioRequest()
	big := order("huge", "p1", model.Location{Lat: 48.86, Lng: 2.35}, 500)
	req.DeliveryPoints = append(req.DeliveryPoints, big)
	resp, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	checkInvariants(t, req, resp)
	require.Len(t, resp.Unassigned, 1)
	assert.Equal(t, "huge", resp.Unassigned[0].OrderID)
	assert.Equal(t, model.ReasonCapacity, resp.Unassigned[0].Reason)
	assert.Equal(t, 1, resp.Summary.UnassignedCount)
}

func TestOptimize_TightCapacity(t *testing.T) {
	mgr := newTestManager(t, nil)
	start := testStart
	p := model.PickupPoint{ID: "p1", Location: model.Location{Lat: 51.5, Lng: -0.12}}
	req := model.Request{
		Vehicles: []model.Vehicle{
			vehicle("v1", model.Location{Lat: 51.5, Lng: -0.13}, 10),
			vehicle("v2", model.Location{Lat: 51.51, Lng: -0.12}, 10),
		},
		PickupPoints: []model.PickupPoint{p},
		Preferences:  model.Preferences{StartTime: &start},
	}
	for i, id := range []string{"a", "b", "c", "d", "e", "f"} {
		req.DeliveryPoints = append(req.DeliveryPoints, order(id, "p1", model.Location{Lat: 51.5 + float64(i)*0.002, Lng: -0.11}, 4))
	}
	resp, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	checkInvariants(t, req, resp)
	assert.Equal(t, 4, countDeliveries(resp))
	require.Len(t, resp.Unassigned, 2)
	for _, u := range resp.Unassigned {
		assert.Equal(t, model.ReasonCapacity, u.Reason)
	}
}

func TestOptimize_RoutingFailureDegrades(t *testing.T) {
	mgr := newTestManager(t, failingMatrix{})
	bus := eventbus.New()
	defer bus.Close()
	mgr.bus = bus
	ch := bus.Subscribe()

	req := scenarioRequest()
	resp, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	checkInvariants(t, req, resp)
	assert.True(t, resp.Degraded.Routing)
	assert.Empty(t, resp.Unassigned)

	found := false
	timeout := time.After(time.Second)
	for !found {
		select {
		case ev := <-ch:
			if d, ok := ev.(events.DegradedEvent); ok && d.Component == "routing" {
				found = true
			}
		case <-timeout:
			t.Fatalf("no degraded event")
		}
	}
}

func TestOptimize_InvalidWeightsRejected(t *testing.T) {
	mgr := newTestManager(t, nil)
	req := scenarioRequest()
	req.Preferences.CustomWeights = map[string]float64{"vehicleToPickup": 0.9, "loadBalance": 0.3}
	_, err := mgr.Optimize(context.Background(), req)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "preferences.customWeights", ve.Field)

	req.Preferences.CustomWeights = nil
	req.Preferences.WeightPreset = "nope"
	_, err = mgr.Optimize(context.Background(), req)
	require.ErrorAs(t, err, &ve)
}

func TestOptimize_PresetAndStrategy(t *testing.T) {
	mgr := newTestManager(t, nil)
	req := scenarioRequest()
	req.Preferences.WeightPreset = "cluster-optimized"
	req.Preferences.Strategy = "round-robin"
	resp, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	checkInvariants(t, req, resp)
	assert.Equal(t, "round-robin", resp.Summary.Strategy)

	req.Preferences.Strategy = "zigzag"
	_, err = mgr.Optimize(context.Background(), req)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestOptimize_NoVehicles(t *testing.T) {
	mgr := newTestManager(t, nil)
	req := scenarioRequest()
	req.Vehicles = nil
	_, err := mgr.Optimize(context.Background(), req)
	if !errors.Is(err, model.ErrNoVehicles) {
		t.Fatalf("expected ErrNoVehicles, got %v", err)
	}
}

func TestOptimize_InvalidOrderReported(t *testing.T) {
	mgr := newTestManager(t, nil)
	req := scenarioRequest()
	bad := order("bad", "p1", model.Location{Lat: 48.85, Lng: 2.35}, 1)
	bad.CreatedAt = time.Time{}
	ghost := order("ghost", "p9", model.Location{Lat: 48.85, Lng: 2.35}, 1)
	req.DeliveryPoints = append(req.DeliveryPoints, bad, ghost)
	resp, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	checkInvariants(t, req, resp)
	require.Len(t, resp.Unassigned, 2)
	assert.Equal(t, "bad", resp.Unassigned[0].OrderID)
	assert.Equal(t, "ghost", resp.Unassigned[1].OrderID)
	for _, u := range resp.Unassigned {
		assert.Equal(t, model.ReasonValidation, u.Reason)
	}
}

type failingProvider struct{}

func (failingProvider) Name() string { return "remote" }
func (failingProvider) SuggestStrategy(context.Context, advisor.Context) (advisor.Suggestion, error) {
	return advisor.Suggestion{}, errors.New("provider down")
}

func TestOptimize_Advisor(t *testing.T) {
	mgr := newTestManager(t, nil)
	req := scenarioRequest()
	req.Preferences.UseAdvisor = true

	resp, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Degraded.Advisor, "no chain configured")

	mgr.SetAdvisor(advisor.NewChain(time.Second, logger.NopLogger{}, failingProvider{}))
	resp, err = mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Degraded.Advisor)
	assert.Nil(t, resp.Advisor)

	mgr.SetAdvisor(advisor.NewChain(time.Second, logger.NopLogger{}, failingProvider{}, advisor.RulesProvider{}))
	resp, err = mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Degraded.Advisor)
	require.NotNil(t, resp.Advisor)
	assert.Equal(t, "rules", resp.Advisor.Provider)
	checkInvariants(t, req, resp)
}

func TestOptimize_StrategyFallback(t *testing.T) {
	mgr := newTestManager(t, nil)
	bus := eventbus.New()
	defer bus.Close()
	mgr.bus = bus
	ch := bus.Subscribe()

	req := scenarioRequest()
	orders, _ := req.SplitOrders()
	progress := map[string]float64{}
	for _, v := range req.Vehicles {
		progress[v.Driver()] = nanValue()
	}
	in := Input{Vehicles: req.Vehicles, Pickups: req.PickupPoints, Orders: orders, Progress: progress}
	var deg model.Degraded
	out, err := mgr.assign(context.Background(), mgr.router.NewSession(), mgr.scorer, StrategyScored, in, "rid", &deg)
	require.NoError(t, err)
	assert.True(t, deg.StrategyFallback)
	assert.Equal(t, StrategyRoundRobin, out.Strategy)
	assert.Len(t, out.Placements, len(orders))

	select {
	case ev := <-ch:
		se, ok := ev.(events.StrategyEvent)
		require.True(t, ok)
		assert.Equal(t, "round_robin_fallback", se.Action)
		assert.Error(t, se.Err)
	case <-time.After(time.Second):
		t.Fatalf("no strategy event")
	}
}

func TestOptimize_RecordsLogAndStatus(t *testing.T) {
	mgr := newTestManager(t, nil)
	store, err := logging.NewJSONLStore(filepath.Join(t.TempDir(), "assign.jsonl"))
	require.NoError(t, err)
	status := vehiclestatus.NewMemoryStore()
	mgr.SetLogStore(store)
	mgr.SetStatusStore(status)
	defer mgr.Close()

	req := scenarioRequest()
	resp, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)

	recs, err := store.Query(context.Background(), logging.LogQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, resp.RequestID, recs[0].RequestID)
	assert.Len(t, recs[0].Assignments, 23)
	assert.Equal(t, "optimize", recs[0].Source)

	assigned := status.List(vehiclestatus.Filter{Status: vehiclestatus.StatusAssigned})
	assert.Len(t, assigned, resp.Summary.VehiclesUsed)
	for _, st := range assigned {
		assert.Equal(t, resp.RequestID, st.LastAssignment.RequestID)
		assert.NotEmpty(t, st.LastAssignment.Orders)
	}
}

func TestOptimize_KeepsCurrentRoute(t *testing.T) {
	mgr := newTestManager(t, nil)
	req := scenarioRequest()
	p1 := req.PickupPoints[0]
	carried := model.Stop{Type: model.StopDelivery, OrderID: "old1", Location: model.Location{Lat: 48.858, Lng: 2.36}, Load: 20, Locked: true}
	req.Vehicles[0].CurrentRoute = &model.Route{VehicleID: "v1", PickupID: p1.ID, Stops: []model.Stop{carried}}
	resp, err := mgr.Optimize(context.Background(), req)
	require.NoError(t, err)
	for _, r := range resp.Routes {
		if r.VehicleID != "v1" {
			continue
		}
		assert.Equal(t, "p1", r.PickupID)
		assert.Equal(t, "old1", r.Stops[0].OrderID)
		assert.True(t, r.Stops[0].Locked)
		assert.LessOrEqual(t, r.TotalLoad, 100.0)
		return
	}
	t.Fatalf("vehicle with a current route received no order")
}

func TestRequestID_StableAcrossCalls(t *testing.T) {
	req := scenarioRequest()
	a, err := RequestID(req)
	require.NoError(t, err)
	b, _ := RequestID(req)
	assert.Equal(t, a, b)
	req.DeliveryPoints = req.DeliveryPoints[1:]
	c, _ := RequestID(req)
	assert.NotEqual(t, a, c)
}

func TestNewDispatchManager_NilParams(t *testing.T) {
	if _, err := NewDispatchManager(Config{}, nil, nil, nil, nil, nil, nil, logger.NopLogger{}); err == nil {
		t.Fatalf("expected error")
	}
}
