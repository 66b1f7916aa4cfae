package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/lastmile/core/model"
)

func TestSequence_LockedFirstThenUrgency(t *testing.T) {
	p := model.PickupPoint{ID: "p1", Location: model.Location{Lat: 0, Lng: 0}}
	stops := []model.Stop{
		{Type: model.StopPickup, Location: p.Location},
		{Type: model.StopDelivery, OrderID: "far-normal", Location: model.Location{Lat: 0, Lng: 0.05}, Urgency: model.UrgencyNormal},
		{Type: model.StopDelivery, OrderID: "carried", Location: model.Location{Lat: 1, Lng: 1}, Locked: true},
		{Type: model.StopDelivery, OrderID: "near-normal", Location: model.Location{Lat: 0, Lng: 0.01}, Urgency: model.UrgencyNormal},
		{Type: model.StopDelivery, OrderID: "critical", Location: model.Location{Lat: 0, Lng: 0.09}, Urgency: model.UrgencyCritical},
	}
	got := Sequence(p, stops)
	require.Len(t, got, 5)
	assert.Equal(t, "carried", got[0].OrderID)
	assert.Equal(t, model.StopPickup, got[1].Type)
	ids := []string{got[2].OrderID, got[3].OrderID, got[4].OrderID}
	// From the critical stop at lng 0.09 the far stop is the nearest.
	assert.Equal(t, []string{"critical", "far-normal", "near-normal"}, ids)
}

func TestSequence_OnlyLocked(t *testing.T) {
	p := model.PickupPoint{ID: "p1"}
	got := Sequence(p, []model.Stop{{Type: model.StopDelivery, OrderID: "x", Locked: true}})
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].OrderID)
}

func TestSequence_TiesByOrderID(t *testing.T) {
	p := model.PickupPoint{ID: "p1"}
	loc := model.Location{Lat: 0.01, Lng: 0}
	got := Sequence(p, []model.Stop{
		{Type: model.StopDelivery, OrderID: "b", Location: loc},
		{Type: model.StopDelivery, OrderID: "a", Location: loc},
	})
	assert.Equal(t, "a", got[1].OrderID)
	assert.Equal(t, "b", got[2].OrderID)
}

func TestMeasureAndSummarize(t *testing.T) {
	r := model.Route{VehicleID: "v1", PickupID: "p1", Stops: []model.Stop{
		{Type: model.StopPickup},
		{Type: model.StopDelivery, OrderID: "a", Load: 30, Location: model.Location{Lat: 0.01}},
		{Type: model.StopDelivery, OrderID: "b", Load: 20, Location: model.Location{Lat: 0.02}},
	}}
	Measure(&r, 200, newTestScorer(t), []float64{10, 20})
	assert.Equal(t, 50.0, r.TotalLoad)
	assert.Equal(t, 25.0, r.CapacityUtilization)
	assert.Equal(t, 15.0, r.Cluster.AverageScore)
	assert.Greater(t, r.Cluster.Density, 0.0)

	r.TotalDistance = 12
	sum := Summarize(4, []model.Route{r}, 1, StrategyScored)
	assert.Equal(t, 1, sum.VehiclesUsed)
	assert.Equal(t, 3, sum.VehiclesIdle)
	assert.Equal(t, 25.0, sum.UtilizationRate)
	assert.Equal(t, 50.0, sum.AverageLoadPerVehicle)
	assert.Equal(t, 12.0, sum.TotalDistance)
	assert.Equal(t, "scored", sum.Strategy)
}
