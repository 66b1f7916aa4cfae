package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/infra/logger"
)

// InfluxSink writes assignment records to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func (s *InfluxSink) write(timeout time.Duration, points ...*write.Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordAssignments writes one "assignment" point per order.
func (s *InfluxSink) RecordAssignments(res []coremetrics.AssignmentResult) error {
	points := make([]*write.Point, 0, len(res))
	for _, r := range res {
		points = append(points, write.NewPointWithMeasurement("assignment").
			AddTag("vehicle_id", r.VehicleID).
			AddTag("pickup_id", r.PickupID).
			AddTag("urgency", r.Urgency.String()).
			AddTag("request_id", r.RequestID).
			AddField("order_id", r.OrderID).
			AddField("score", round3(r.Score)).
			AddField("load", round3(r.Load)).
			SetTime(r.Time))
	}
	return s.write(10*time.Second, points...)
}

// RecordRun writes the "optimize_run" summary point.
func (s *InfluxSink) RecordRun(sum coremetrics.RunSummary) error {
	p := write.NewPointWithMeasurement("optimize_run").
		AddTag("strategy", sum.Strategy).
		AddTag("degraded_routing", strconv.FormatBool(sum.Degraded.Routing)).
		AddTag("degraded_advisor", strconv.FormatBool(sum.Degraded.Advisor)).
		AddField("request_id", sum.RequestID).
		AddField("vehicles_used", sum.VehiclesUsed).
		AddField("vehicles_idle", sum.VehiclesIdle).
		AddField("unassigned", sum.Unassigned).
		AddField("utilization_rate", round3(sum.UtilizationRate)).
		AddField("total_distance_km", round3(sum.TotalDistance)).
		AddField("duration_ms", round3(sum.Duration.Seconds()*1000)).
		SetTime(sum.Time)
	return s.write(5*time.Second, p)
}

// RecordAtRisk writes an "at_risk" point.
func (s *InfluxSink) RecordAtRisk(a model.AtRiskAlert) error {
	p := write.NewPointWithMeasurement("at_risk").
		AddTag("pickup_id", a.PickupID).
		AddTag("reason", a.Reason).
		AddField("order_id", a.OrderID).
		AddField("remaining_minutes", round3(a.RemainingMinutes)).
		SetTime(a.RaisedAt)
	return s.write(5*time.Second, p)
}

// RecordTick writes a "redispatch_pass" point.
func (s *InfluxSink) RecordTick(sum coremetrics.TickSummary) error {
	p := write.NewPointWithMeasurement("redispatch_pass").
		AddTag("trigger", sum.Trigger).
		AddField("reassigned", sum.Reassigned).
		AddField("at_risk", sum.AtRisk).
		AddField("deferred", sum.Deferred).
		AddField("duration_ms", round3(sum.Duration.Seconds()*1000)).
		SetTime(sum.Time)
	return s.write(5*time.Second, p)
}

// RecordDegraded writes a "degraded" point.
func (s *InfluxSink) RecordDegraded(ev coremetrics.DegradedEvent) error {
	p := write.NewPointWithMeasurement("degraded").
		AddTag("component", ev.Component).
		AddField("request_id", ev.RequestID).
		AddField("error", ev.Error).
		SetTime(ev.Time)
	return s.write(5*time.Second, p)
}

// RecordFallback writes a "strategy_fallback" point.
func (s *InfluxSink) RecordFallback(ev coremetrics.FallbackEvent) error {
	p := write.NewPointWithMeasurement("strategy_fallback").
		AddTag("strategy", ev.Strategy).
		AddField("request_id", ev.RequestID).
		AddField("error", ev.Error).
		SetTime(ev.Time)
	return s.write(5*time.Second, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
