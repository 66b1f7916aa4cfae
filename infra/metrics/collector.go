package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/lastmile/core/events"
	coremetrics "github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records degraded runs
// and strategy fallbacks. Assignments, runs and passes are recorded by their
// producers directly. It stops when the context is canceled.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				record(sink, ev)
			}
		}
	}()
}

func record(sink coremetrics.MetricsSink, ev eventbus.Event) {
	switch e := ev.(type) {
	case events.DegradedEvent:
		if r, ok := sink.(coremetrics.DegradedRecorder); ok {
			_ = r.RecordDegraded(coremetrics.DegradedEvent{
				RequestID: e.RequestID,
				Component: e.Component,
				Error:     errString(e.Err),
				Time:      timeOr(e.Time),
			})
		}
	case events.StrategyEvent:
		if e.Action != "round_robin_fallback" {
			return
		}
		if r, ok := sink.(coremetrics.FallbackRecorder); ok {
			_ = r.RecordFallback(coremetrics.FallbackEvent{
				RequestID: e.RequestID,
				Strategy:  e.Strategy,
				Error:     errString(e.Err),
				Time:      time.Now(),
			})
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func timeOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
