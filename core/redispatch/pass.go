package redispatch

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/lastmile/core/deadline"
	"github.com/kilianp07/lastmile/core/dispatch"
	"github.com/kilianp07/lastmile/core/dispatch/logging"
	"github.com/kilianp07/lastmile/core/events"
	"github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/routing"
)

// working is the copy of the live state a pass mutates before committing.
type working struct {
	vehicles map[string]model.Vehicle
	pickups  map[string]model.PickupPoint
	routes   map[string]model.Route
	orders   map[string]model.DeliveryOrder
	pending  map[string]struct{}
	dirty    map[string]bool
}

func (e *Engine) copyState() working {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w := working{
		vehicles: make(map[string]model.Vehicle, len(e.vehicles)),
		pickups:  make(map[string]model.PickupPoint, len(e.pickups)),
		routes:   make(map[string]model.Route, len(e.routes)),
		orders:   make(map[string]model.DeliveryOrder, len(e.orders)),
		pending:  make(map[string]struct{}, len(e.pending)),
		dirty:    map[string]bool{},
	}
	for k, v := range e.vehicles {
		w.vehicles[k] = v
	}
	for k, v := range e.pickups {
		w.pickups[k] = v
	}
	for k, v := range e.routes {
		w.routes[k] = v.Clone()
	}
	for k, v := range e.orders {
		w.orders[k] = v
	}
	for k := range e.pending {
		w.pending[k] = struct{}{}
	}
	return w
}

// outcome collects what a pass decided, for the emit step.
type outcome struct {
	id         string
	strategy   dispatch.Strategy
	placements []dispatch.Placement
	previous   map[string]string
	alerts     []model.AtRiskAlert
	deferred   []string
	unplaced   map[string]string
}

// pass runs one re-dispatch cycle. The caller holds passMu.
func (e *Engine) pass(ctx context.Context, trigger string) Report {
	start := time.Now()
	now := e.now()
	w := e.copyState()

	assess := make(map[string]deadline.Assessment, len(w.orders))
	urgency := make(map[string]model.Urgency, len(w.orders))
	for id, o := range w.orders {
		a, err := e.classifier.Classify(o, now)
		if err != nil {
			e.log.Warnf("redispatch: classify %s: %v", id, err)
			continue
		}
		assess[id] = a
		urgency[id] = a.Urgency
	}

	e.mu.RLock()
	seen := make(map[string]model.Urgency, len(e.seen))
	for k, v := range e.seen {
		seen[k] = v
	}
	alerted := make(map[string]string, len(e.alerted))
	for k, v := range e.alerted {
		alerted[k] = v
	}
	available := make(map[string]bool, len(w.vehicles))
	for id := range w.vehicles {
		available[id] = e.availableLocked(id)
	}
	e.mu.RUnlock()

	out := outcome{
		id:       uuid.NewString(),
		strategy: dispatch.StrategyScored,
		previous: map[string]string{},
		unplaced: map[string]string{},
	}
	selected := e.selectOrders(&w, urgency, seen, available, out.previous)
	dispatch.SortOrders(selected, urgency)

	sess := e.router.NewSession()
	progress := e.progress(ctx, w.vehicles, available)
	assigner := dispatch.NewAssigner(e.scorer, e.log, dispatch.WithFairShare(e.cfg.FairShare))
	budget := e.cfg.Budget()

	rep := Report{Trigger: trigger}
	for _, o := range selected {
		critical := urgency[o.ID] == model.UrgencyCritical
		if !critical && e.since(start) > budget {
			w.pending[o.ID] = struct{}{}
			out.deferred = append(out.deferred, o.ID)
			out.unplaced[o.ID] = model.ReasonDeferred
			continue
		}
		p, reason, err := e.place(ctx, assigner, sess, &w, o, urgency, progress, available, &out)
		if err != nil {
			// Cancellation or an unrecoverable assigner failure leaves the
			// order pending for the next pass.
			e.log.Errorf("redispatch: place %s: %v", o.ID, err)
			w.pending[o.ID] = struct{}{}
			out.unplaced[o.ID] = model.ReasonDeferred
			continue
		}
		if p == nil {
			w.pending[o.ID] = struct{}{}
			out.unplaced[o.ID] = reason
			// One alert per order until it is placed or the reason changes.
			if critical && alerted[o.ID] != reason {
				out.alerts = append(out.alerts, e.alertFor(o, assess[o.ID], out.previous[o.ID], reason, now))
				alerted[o.ID] = reason
			}
			continue
		}
		delete(alerted, o.ID)
		delete(w.pending, o.ID)
		out.placements = append(out.placements, *p)
		if prev, moved := out.previous[o.ID]; !moved {
			rep.Placed++
		} else if prev != p.VehicleID {
			rep.Reassigned++
		}
	}

	// Routes whose stop urgencies moved are re-sequenced as well.
	for vid, r := range w.routes {
		for i := range r.Stops {
			s := &r.Stops[i]
			if u, ok := urgency[s.OrderID]; ok && s.Type == model.StopDelivery && s.Urgency != u {
				s.Urgency = u
				w.dirty[vid] = true
			}
		}
	}
	e.resequence(ctx, sess, &w, now)
	if sess.Degraded() {
		e.log.Warnf("redispatch: routing degraded during %s pass: %v", trigger, sess.Err())
	}

	e.mu.Lock()
	e.routes = w.routes
	e.pending = w.pending
	e.seen = urgency
	e.alerted = alerted
	e.mu.Unlock()

	rep.AtRisk = out.alerts
	rep.Deferred = out.deferred
	rep.Duration = e.since(start)
	e.emit(ctx, trigger, rep, &w, out, now)
	return rep
}

// selectOrders removes the orders to reconsider from their routes and
// returns them. previous records the vehicle each routed order left.
func (e *Engine) selectOrders(w *working, urgency, seen map[string]model.Urgency, available map[string]bool, previous map[string]string) []model.DeliveryOrder {
	picked := map[string]bool{}
	for id := range w.pending {
		picked[id] = true
	}
	vids := make([]string, 0, len(w.routes))
	for vid := range w.routes {
		vids = append(vids, vid)
	}
	sort.Strings(vids)
	for _, vid := range vids {
		r := w.routes[vid]
		kept := make([]model.Stop, 0, len(r.Stops))
		for _, s := range r.Stops {
			if s.Type != model.StopDelivery || s.Locked {
				kept = append(kept, s)
				continue
			}
			escalated := urgency[s.OrderID] == model.UrgencyCritical && seen[s.OrderID] != model.UrgencyCritical
			if !available[vid] || escalated {
				picked[s.OrderID] = true
				previous[s.OrderID] = vid
				w.dirty[vid] = true
				continue
			}
			kept = append(kept, s)
		}
		r.Stops = kept
		w.routes[vid] = r
	}

	out := make([]model.DeliveryOrder, 0, len(picked))
	for id := range picked {
		if o, ok := w.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func (e *Engine) progress(ctx context.Context, vehicles map[string]model.Vehicle, available map[string]bool) map[string]float64 {
	if e.tracker == nil {
		return nil
	}
	ids := make([]string, 0, len(vehicles))
	for id, v := range vehicles {
		if available[id] {
			ids = append(ids, v.Driver())
		}
	}
	sort.Strings(ids)
	return e.tracker.MeanProgress(ctx, ids)
}

// place offers o to the available vehicles. A nil placement with a reason
// means no vehicle could take the order.
func (e *Engine) place(ctx context.Context, a *dispatch.Assigner, sess *routing.Session, w *working, o model.DeliveryOrder, urgency map[string]model.Urgency, progress map[string]float64, available map[string]bool, out *outcome) (*dispatch.Placement, string, error) {
	pickup, ok := w.pickups[o.PickupID]
	if !ok {
		return nil, model.ReasonValidation, nil
	}
	candidates := make([]model.Vehicle, 0, len(w.vehicles))
	for id, v := range w.vehicles {
		if !available[id] {
			continue
		}
		if r, ok := w.routes[id]; ok {
			cp := r.Clone()
			v.CurrentRoute = &cp
		}
		candidates = append(candidates, v)
	}
	if len(candidates) == 0 {
		return nil, model.ReasonCapacity, nil
	}
	in := dispatch.Input{
		Vehicles: candidates,
		Pickups:  []model.PickupPoint{pickup},
		Orders:   []model.DeliveryOrder{o},
		Urgency:  urgency,
		Progress: progress,
	}
	res, err := a.Assign(ctx, sess, dispatch.StrategyScored, in)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", err
		}
		e.log.Warnf("redispatch: scored placement of %s failed, using round-robin: %v", o.ID, err)
		out.strategy = dispatch.StrategyRoundRobin
		if res, err = a.Assign(ctx, sess, dispatch.StrategyRoundRobin, in); err != nil {
			return nil, "", err
		}
	}
	if len(res.Placements) == 0 {
		reason := model.ReasonCapacity
		if len(res.Unassigned) > 0 {
			reason = res.Unassigned[0].Reason
		}
		return nil, reason, nil
	}
	p := res.Placements[0]
	r, ok := w.routes[p.VehicleID]
	if !ok {
		r = model.Route{VehicleID: p.VehicleID, PickupID: p.PickupID}
	}
	r.Stops = append(r.Stops, model.Stop{
		Type:     model.StopDelivery,
		OrderID:  o.ID,
		Location: o.Location,
		Load:     o.Load,
		Urgency:  p.Urgency,
	})
	w.routes[p.VehicleID] = r
	w.dirty[p.VehicleID] = true
	return &p, "", nil
}

// resequence rebuilds the stop order, metrics and arrival times of dirty
// routes. Routes left without deliveries are dropped.
func (e *Engine) resequence(ctx context.Context, sess *routing.Session, w *working, now time.Time) {
	for vid := range w.dirty {
		r, ok := w.routes[vid]
		if !ok {
			continue
		}
		if len(r.Deliveries()) == 0 {
			delete(w.routes, vid)
			continue
		}
		v := w.vehicles[vid]
		pickup := w.pickups[r.PickupID]
		r.Stops = dispatch.Sequence(pickup, r.Stops)
		dispatch.Measure(&r, v.Capacity, e.scorer, nil)
		e.eta.Propagate(ctx, sess, v.Location, now, &r)
		w.routes[vid] = r
	}
}

func (e *Engine) alertFor(o model.DeliveryOrder, a deadline.Assessment, vehicleID, reason string, now time.Time) model.AtRiskAlert {
	return model.AtRiskAlert{
		ID:               uuid.NewString(),
		OrderID:          o.ID,
		PickupID:         o.PickupID,
		VehicleID:        vehicleID,
		Urgency:          a.Urgency,
		Deadline:         a.Deadline,
		RemainingMinutes: a.RemainingMinutes,
		Reason:           reason,
		RaisedAt:         now,
	}
}

func (e *Engine) publish(ev any) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// emit fans a committed pass out to metrics, the log, drivers and bus
// subscribers. Failures are logged and never undo the pass.
func (e *Engine) emit(ctx context.Context, trigger string, rep Report, w *working, out outcome, now time.Time) {
	source := "redispatch:" + trigger
	passesTotal.WithLabelValues(trigger).Inc()
	passLatency.Observe(rep.Duration.Seconds())
	reassignedOrders.Add(float64(rep.Reassigned))
	deferredOrders.Add(float64(len(rep.Deferred)))
	atRiskAlerts.Add(float64(len(rep.AtRisk)))
	pendingOrders.Set(float64(len(w.pending)))

	for _, a := range out.alerts {
		e.log.Warnf("redispatch: %v", a)
		e.publish(events.AtRiskEvent{Alert: a})
		e.alerts.Publish(a)
		if ar, ok := e.sink.(metrics.AtRiskRecorder); ok {
			if err := ar.RecordAtRisk(a); err != nil {
				e.log.Errorf("at-risk metrics error: %v", err)
			}
		}
		if e.publisher != nil {
			if err := e.publisher.PublishAlert(ctx, a); err != nil {
				e.log.Errorf("publish alert %s: %v", a.ID, err)
			}
		}
	}

	if len(out.placements) > 0 {
		results := make([]metrics.AssignmentResult, 0, len(out.placements))
		assigned := make([]events.Assignment, 0, len(out.placements))
		for _, p := range out.placements {
			results = append(results, metrics.AssignmentResult{
				RequestID: out.id,
				OrderID:   p.Order.ID,
				VehicleID: p.VehicleID,
				PickupID:  p.PickupID,
				Urgency:   p.Urgency,
				Score:     p.Score.Total,
				Load:      p.Order.Load,
				Time:      now,
			})
			assigned = append(assigned, events.Assignment{
				OrderID:   p.Order.ID,
				VehicleID: p.VehicleID,
				PickupID:  p.PickupID,
				Urgency:   p.Urgency,
				Score:     p.Score.Total,
				Load:      p.Order.Load,
			})
		}
		if err := e.sink.RecordAssignments(results); err != nil {
			e.log.Errorf("metrics error: %v", err)
		}
		e.publish(events.AssignmentEvent{
			RequestID:   out.id,
			Source:      source,
			Assignments: assigned,
			Previous:    out.previous,
			Time:        now,
		})
	}

	if len(out.placements) > 0 || len(out.unplaced) > 0 {
		e.appendLog(ctx, source, w, out, now)
	}

	vids := make([]string, 0, len(w.dirty))
	for vid := range w.dirty {
		vids = append(vids, vid)
	}
	sort.Strings(vids)
	for _, vid := range vids {
		r, ok := w.routes[vid]
		if !ok {
			continue
		}
		e.status.RecordAssignment(vid, dispatch.LastAssignment(out.id, source, r, now))
		if e.publisher != nil {
			if _, err := e.publisher.PublishRoute(ctx, out.id, r); err != nil {
				e.log.Errorf("publish route for %s: %v", vid, err)
			}
		}
	}

	if tr, ok := e.sink.(metrics.TickRecorder); ok {
		err := tr.RecordTick(metrics.TickSummary{
			Trigger:    trigger,
			Reassigned: rep.Reassigned,
			AtRisk:     len(rep.AtRisk),
			Deferred:   len(rep.Deferred),
			Duration:   rep.Duration,
			Time:       now,
		})
		if err != nil {
			e.log.Errorf("tick metrics error: %v", err)
		}
	}
	e.publish(events.TickEvent{
		Trigger:    trigger,
		Reassigned: rep.Reassigned,
		AtRisk:     len(rep.AtRisk),
		Deferred:   len(rep.Deferred),
		Duration:   rep.Duration,
		Time:       now,
	})
	e.log.Debugw("redispatch pass", map[string]any{
		"trigger":    trigger,
		"placed":     rep.Placed,
		"reassigned": rep.Reassigned,
		"at_risk":    len(rep.AtRisk),
		"deferred":   len(rep.Deferred),
		"pending":    len(w.pending),
	})
}

func (e *Engine) appendLog(ctx context.Context, source string, w *working, out outcome, now time.Time) {
	if e.store == nil {
		return
	}
	routes := make([]model.Route, 0, len(w.routes))
	for _, r := range w.routes {
		routes = append(routes, r)
	}
	rec := logging.LogRecord{
		ID:          uuid.NewString(),
		RequestID:   out.id,
		Timestamp:   now,
		Source:      source,
		Strategy:    out.strategy.String(),
		Assignments: make(map[string]string, len(out.placements)),
		Scores:      make(map[string]float64, len(out.placements)),
		Unassigned:  out.unplaced,
		Summary:     dispatch.Summarize(len(w.vehicles), routes, len(w.pending), out.strategy),
	}
	for _, p := range out.placements {
		rec.Assignments[p.Order.ID] = p.VehicleID
		rec.Scores[p.Order.ID] = p.Score.Total
	}
	if err := e.store.Append(ctx, rec); err != nil {
		e.log.Errorf("assignment log error: %v", err)
	}
}
