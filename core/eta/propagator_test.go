package eta

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/routing"
	"github.com/kilianp07/lastmile/infra/logger"
)

type fixedService struct {
	perLeg time.Duration
	err    error
}

func (f fixedService) GetLeg(context.Context, model.Location, model.Location) (routing.Leg, error) {
	if f.err != nil {
		return routing.Leg{}, f.err
	}
	return routing.Leg{DistanceKm: 2, Duration: f.perLeg}, nil
}

func testRoute() model.Route {
	return model.Route{VehicleID: "V1", PickupID: "P1", Stops: []model.Stop{
		{Type: model.StopPickup, Location: model.Location{Lat: 24.70, Lng: 46.70}},
		{Type: model.StopDelivery, OrderID: "a", Location: model.Location{Lat: 24.71, Lng: 46.70}},
		{Type: model.StopDelivery, OrderID: "b", Location: model.Location{Lat: 24.72, Lng: 46.71}},
	}}
}

func TestPropagateCumulativeFormula(t *testing.T) {
	sess := routing.NewRouter(fixedService{perLeg: 10 * time.Minute}, routing.Config{}, logger.NopLogger{}).NewSession()
	p := NewPropagator(Config{}, time.UTC)
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	r := testRoute()
	p.Propagate(context.Background(), sess, model.Location{Lat: 24.6, Lng: 46.6}, start, &r)

	wantCum := []float64{10, 25, 40}
	wantDelta := []float64{10, 15, 15}
	wantClock := []string{"09:10", "09:25", "09:40"}
	for i, s := range r.Stops {
		assert.Equal(t, wantCum[i], s.CumulativeDurationMinutes, "stop %d", i)
		assert.Equal(t, wantDelta[i], s.DeltaMinutes, "stop %d", i)
		assert.Equal(t, wantClock[i], s.ArrivalTime, "stop %d", i)
		assert.True(t, s.EstimatedArrival.Equal(start.Add(time.Duration(wantCum[i])*time.Minute)))
	}
	assert.Equal(t, 6.0, r.TotalDistance)
}

func TestPropagateMonotonicWithFallback(t *testing.T) {
	sess := routing.NewRouter(fixedService{err: errors.New("down")}, routing.Config{}, logger.NopLogger{}).NewSession()
	p := NewPropagator(Config{ServiceMinutes: 3}, time.UTC)
	r := testRoute()
	// a repeated location yields a zero leg, the service time still applies
	r.Stops = append(r.Stops, r.Stops[2])
	r.Stops[3].OrderID = "c"
	p.Propagate(context.Background(), sess, r.Stops[0].Location, time.Now(), &r)
	require.True(t, sess.Degraded())
	for i := 1; i < len(r.Stops); i++ {
		assert.GreaterOrEqual(t, r.Stops[i].CumulativeDurationMinutes, r.Stops[i-1].CumulativeDurationMinutes)
		assert.True(t, r.Stops[i].EstimatedArrival.After(r.Stops[i-1].EstimatedArrival))
	}
	assert.Equal(t, 0.0, r.Stops[0].CumulativeDurationMinutes)
	assert.Equal(t, 3.0, r.Stops[3].DeltaMinutes)
}

func TestPropagateLayoutAndZone(t *testing.T) {
	riyadh := time.FixedZone("AST", 3*3600)
	sess := routing.NewRouter(fixedService{perLeg: time.Minute}, routing.Config{}, logger.NopLogger{}).NewSession()
	p := NewPropagator(Config{TimeLayout: "2006-01-02 15:04"}, riyadh)
	r := testRoute()
	p.Propagate(context.Background(), sess, model.Location{}, time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC), &r)
	assert.Equal(t, "2024-05-02 01:01", r.Stops[0].ArrivalTime)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{ServiceMinutes: -1}.Validate())
	c := Config{}
	c.SetDefaults()
	assert.Equal(t, 5.0, c.ServiceMinutes)
	assert.NoError(t, c.Validate())
}
