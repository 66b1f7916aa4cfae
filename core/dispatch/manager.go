package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/lastmile/core/advisor"
	"github.com/kilianp07/lastmile/core/deadline"
	"github.com/kilianp07/lastmile/core/dispatch/logging"
	"github.com/kilianp07/lastmile/core/eta"
	"github.com/kilianp07/lastmile/core/events"
	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/mqtt"
	"github.com/kilianp07/lastmile/core/routing"
	"github.com/kilianp07/lastmile/core/scoring"
	"github.com/kilianp07/lastmile/core/targets"
	vehiclestatus "github.com/kilianp07/lastmile/core/vehiclestatus"
	"github.com/kilianp07/lastmile/internal/eventbus"
)

// requestNamespace scopes the name based request ids.
var requestNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/kilianp07/lastmile/optimize"))

type DispatchManager struct {
	cfg         Config
	classifier  *deadline.Classifier
	scorer      *scoring.Scorer
	router      *routing.Router
	eta         *eta.Propagator
	logger      logger.Logger
	metrics     metrics.MetricsSink
	bus         eventbus.EventBus
	tracker     *targets.Tracker
	advisor     *advisor.Chain
	publisher   mqtt.Publisher
	store       logging.LogStore
	statusStore vehiclestatus.Store
	now         func() time.Time
	mu          sync.Mutex
}

// NewDispatchManager creates a new manager. The classifier, scorer, router
// and propagator are required. A nil sink records nothing.
func NewDispatchManager(cfg Config, classifier *deadline.Classifier, scorer *scoring.Scorer, router *routing.Router, prop *eta.Propagator, sink metrics.MetricsSink, bus eventbus.EventBus, log logger.Logger) (*DispatchManager, error) {
	if classifier == nil || scorer == nil || router == nil || prop == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewDispatchManager")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &DispatchManager{
		cfg:        cfg,
		classifier: classifier,
		scorer:     scorer,
		router:     router,
		eta:        prop,
		logger:     log,
		metrics:    sink,
		bus:        bus,
		now:        time.Now,
	}, nil
}

// SetTracker configures the driver target tracker feeding the fairness term.
func (m *DispatchManager) SetTracker(t *targets.Tracker) {
	m.mu.Lock()
	m.tracker = t
	m.mu.Unlock()
}

// SetAdvisor configures the advisory provider chain.
func (m *DispatchManager) SetAdvisor(c *advisor.Chain) {
	m.mu.Lock()
	m.advisor = c
	m.mu.Unlock()
}

// SetPublisher configures the publisher notifying drivers of their routes.
func (m *DispatchManager) SetPublisher(p mqtt.Publisher) {
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

// SetLogStore configures the store used to persist assignment logs.
func (m *DispatchManager) SetLogStore(store logging.LogStore) {
	m.mu.Lock()
	m.store = store
	m.mu.Unlock()
}

// SetStatusStore configures the store used to persist vehicle status information.
func (m *DispatchManager) SetStatusStore(store vehiclestatus.Store) {
	m.mu.Lock()
	m.statusStore = store
	m.mu.Unlock()
}

// SetClock replaces the reference clock used when a request carries no
// start time.
func (m *DispatchManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Close releases resources held by the manager.
func (m *DispatchManager) Close() error {
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()
	if store != nil {
		return store.Close()
	}
	return nil
}

type collaborators struct {
	tracker     *targets.Tracker
	advisor     *advisor.Chain
	publisher   mqtt.Publisher
	store       logging.LogStore
	statusStore vehiclestatus.Store
	now         func() time.Time
}

func (m *DispatchManager) collaborators() collaborators {
	m.mu.Lock()
	defer m.mu.Unlock()
	return collaborators{
		tracker:     m.tracker,
		advisor:     m.advisor,
		publisher:   m.publisher,
		store:       m.store,
		statusStore: m.statusStore,
		now:         m.now,
	}
}

// RequestID derives the identifier of a request from its canonical JSON
// encoding so identical requests share an id.
func RequestID(req model.Request) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("request id: %w", err)
	}
	return uuid.NewSHA1(requestNamespace, b).String(), nil
}

// Optimize runs one request end to end. Only malformed requests, invalid
// preferences and cancellation return an error. Every other problem is
// reported in the response.
func (m *DispatchManager) Optimize(ctx context.Context, req model.Request) (model.Response, error) {
	started := time.Now()
	if err := req.Validate(); err != nil {
		return model.Response{}, fmt.Errorf("optimize: %w", err)
	}
	deps := m.collaborators()
	now := deps.now()
	if req.Preferences.StartTime != nil {
		now = *req.Preferences.StartTime
	}
	requestID, err := RequestID(req)
	if err != nil {
		return model.Response{}, fmt.Errorf("optimize: %w", err)
	}
	pref := req.Preferences.Strategy
	if pref == "" {
		pref = m.cfg.Strategy
	}
	strategy, err := ParseStrategy(pref)
	if err != nil {
		return model.Response{}, fmt.Errorf("optimize: %w", err)
	}

	orders, rejected := req.SplitOrders()
	assessed, bad := m.classifier.ClassifyAll(orders, now)
	rejected = append(rejected, bad...)
	valid := make([]model.DeliveryOrder, 0, len(orders))
	urgency := make(map[string]model.Urgency, len(orders))
	for _, o := range orders {
		if a, ok := assessed[o.ID]; ok {
			valid = append(valid, o)
			urgency[o.ID] = a.Urgency
		}
	}

	resp := model.Response{RequestID: requestID}
	scorer, info, err := m.scorerFor(ctx, deps, req, valid, urgency, &resp.Degraded)
	if err != nil {
		return model.Response{}, fmt.Errorf("optimize: %w", err)
	}
	resp.Advisor = info

	sess := m.router.NewSession()
	in := Input{
		Vehicles: req.Vehicles,
		Pickups:  req.PickupPoints,
		Orders:   valid,
		Urgency:  urgency,
		Progress: progressOf(ctx, deps.tracker, req.Vehicles),
	}
	out, err := m.assign(ctx, sess, scorer, strategy, in, requestID, &resp.Degraded)
	if err != nil {
		return model.Response{}, fmt.Errorf("optimize: %w", err)
	}

	resp.Routes = m.buildRoutes(ctx, sess, scorer, req, out, now)
	resp.Unassigned = append(rejected, out.Unassigned...)
	if resp.Unassigned == nil {
		resp.Unassigned = []model.Unassigned{}
	}
	sort.SliceStable(resp.Unassigned, func(i, j int) bool { return resp.Unassigned[i].OrderID < resp.Unassigned[j].OrderID })
	resp.Summary = Summarize(len(req.Vehicles), resp.Routes, len(resp.Unassigned), out.Strategy)

	if sess.Degraded() {
		resp.Degraded.Routing = true
		m.logger.Warnf("optimize %s: routing degraded: %v", requestID, sess.Err())
		m.publish(events.DegradedEvent{RequestID: requestID, Component: "routing", Err: sess.Err(), Time: now})
	}
	m.record(ctx, deps, resp, out, now, time.Since(started))
	return resp, nil
}

// scorerFor resolves the weights of the run. Explicit weights win over a
// preset, and both win over the advisor.
func (m *DispatchManager) scorerFor(ctx context.Context, deps collaborators, req model.Request, orders []model.DeliveryOrder, urgency map[string]model.Urgency, deg *model.Degraded) (*scoring.Scorer, *model.AdvisorInfo, error) {
	p := req.Preferences
	switch {
	case len(p.CustomWeights) > 0:
		w, err := scoring.FromMap(p.CustomWeights)
		if err != nil {
			return nil, nil, &model.ValidationError{Field: "preferences.customWeights", Reason: err.Error()}
		}
		s, err := m.scorer.WithWeights(w)
		return s, nil, err
	case p.WeightPreset != "":
		w, err := scoring.Preset(p.WeightPreset)
		if err != nil {
			return nil, nil, &model.ValidationError{Field: "preferences.weightPreset", Reason: err.Error()}
		}
		s, err := m.scorer.WithWeights(w)
		return s, nil, err
	case !p.UseAdvisor && !m.cfg.UseAdvisor:
		return m.scorer, nil, nil
	}

	in := advisor.Context{
		Orders:   len(orders),
		Vehicles: len(req.Vehicles),
		Pickups:  len(req.PickupPoints),
	}
	for _, o := range orders {
		in.TotalLoad += o.Load
		if urgency[o.ID] == model.UrgencyCritical {
			in.CriticalOrders++
		}
	}
	for _, v := range req.Vehicles {
		in.TotalCapacity += v.Capacity
	}
	var (
		res advisor.Result
		err error
	)
	if deps.advisor == nil {
		err = &model.AdvisorUnavailableError{}
	} else {
		res, err = deps.advisor.Suggest(ctx, in)
	}
	if err != nil {
		deg.Advisor = true
		degradedRuns.WithLabelValues("advisor").Inc()
		m.logger.Warnf("optimize: advisor unavailable, using default weights: %v", err)
		m.publish(events.DegradedEvent{Component: "advisor", Err: err, Time: deps.now()})
		return m.scorer, nil, nil
	}
	s, err := m.scorer.WithWeights(res.Weights)
	if err != nil {
		return nil, nil, err
	}
	return s, &model.AdvisorInfo{Provider: res.Provider, Preset: res.Value.Preset}, nil
}

func progressOf(ctx context.Context, t *targets.Tracker, vehicles []model.Vehicle) map[string]float64 {
	if t == nil {
		return nil
	}
	ids := make([]string, 0, len(vehicles))
	for _, v := range vehicles {
		ids = append(ids, v.Driver())
	}
	return t.MeanProgress(ctx, ids)
}

// assign runs the requested strategy and re-runs the same input with
// round-robin when the scored run fails.
func (m *DispatchManager) assign(ctx context.Context, sess *routing.Session, scorer *scoring.Scorer, strategy Strategy, in Input, requestID string, deg *model.Degraded) (Outcome, error) {
	a := NewAssigner(scorer, m.logger, WithFairShare(m.cfg.FairShare))
	out, err := a.Assign(ctx, sess, strategy, in)
	if err == nil {
		action := "scored"
		if strategy == StrategyRoundRobin {
			action = "round_robin"
		}
		m.publish(events.StrategyEvent{RequestID: requestID, Strategy: strategy.String(), Action: action})
		return out, nil
	}
	if strategy != StrategyScored || ctx.Err() != nil {
		return Outcome{}, err
	}
	m.logger.Warnf("scored assignment failed, falling back to round-robin: %v", err)
	m.publish(events.StrategyEvent{RequestID: requestID, Strategy: StrategyRoundRobin.String(), Action: "round_robin_fallback", Err: err})
	strategyFallbacks.Inc()
	deg.StrategyFallback = true
	return a.Assign(ctx, sess, StrategyRoundRobin, in)
}

func (m *DispatchManager) buildRoutes(ctx context.Context, sess *routing.Session, scorer *scoring.Scorer, req model.Request, out Outcome, now time.Time) []model.Route {
	vehicles := make(map[string]model.Vehicle, len(req.Vehicles))
	for _, v := range req.Vehicles {
		vehicles[v.ID] = v
	}
	pickups := make(map[string]model.PickupPoint, len(req.PickupPoints))
	for _, p := range req.PickupPoints {
		pickups[p.ID] = p
	}
	byVehicle := map[string][]Placement{}
	for _, p := range out.Placements {
		byVehicle[p.VehicleID] = append(byVehicle[p.VehicleID], p)
	}
	ids := make([]string, 0, len(byVehicle))
	for id := range byVehicle {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	routes := make([]model.Route, 0, len(ids))
	for _, id := range ids {
		placed := byVehicle[id]
		routes = append(routes, BuildRoute(ctx, sess, scorer, m.eta, vehicles[id], pickups[placed[0].PickupID], placed, now))
	}
	return routes
}

// BuildRoute merges placements into the vehicle's current route for pickup,
// sequences the stops and computes metrics and arrival times.
func BuildRoute(ctx context.Context, sess *routing.Session, scorer *scoring.Scorer, prop *eta.Propagator, v model.Vehicle, pickup model.PickupPoint, placed []Placement, now time.Time) model.Route {
	var stops []model.Stop
	if cur := v.CurrentRoute; cur != nil && cur.PickupID == pickup.ID {
		stops = append(stops, cur.Stops...)
	}
	scores := make([]float64, 0, len(placed))
	for _, p := range placed {
		stops = append(stops, model.Stop{
			Type:     model.StopDelivery,
			OrderID:  p.Order.ID,
			Location: p.Order.Location,
			Load:     p.Order.Load,
			Urgency:  p.Urgency,
		})
		scores = append(scores, p.Score.Total)
	}
	r := model.Route{VehicleID: v.ID, PickupID: pickup.ID, Stops: Sequence(pickup, stops)}
	Measure(&r, v.Capacity, scorer, scores)
	prop.Propagate(ctx, sess, v.Location, now, &r)
	return r
}

// Summarize aggregates fleet usage over routes.
func Summarize(fleet int, routes []model.Route, unassigned int, s Strategy) model.Summary {
	loads := make([]float64, len(routes))
	dists := make([]float64, len(routes))
	for i, r := range routes {
		loads[i] = r.TotalLoad
		dists[i] = r.TotalDistance
	}
	sum := model.Summary{
		VehiclesUsed:    len(routes),
		VehiclesIdle:    max(0, fleet-len(routes)),
		TotalLoad:       round2(floats.Sum(loads)),
		TotalDistance:   round2(floats.Sum(dists)),
		UnassignedCount: unassigned,
		Strategy:        s.String(),
	}
	if fleet > 0 {
		sum.UtilizationRate = round2(float64(len(routes)) / float64(fleet) * 100)
	}
	if len(routes) > 0 {
		sum.AverageLoadPerVehicle = round2(sum.TotalLoad / float64(len(routes)))
	}
	return sum
}

func (m *DispatchManager) publish(ev eventbus.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

// record fans the committed run out to metrics, the log store, the status
// store, drivers and bus subscribers. Failures are logged and never undo
// the run.
func (m *DispatchManager) record(ctx context.Context, deps collaborators, resp model.Response, out Outcome, now time.Time, took time.Duration) {
	strategy := out.Strategy.String()
	results := make([]metrics.AssignmentResult, 0, len(out.Placements))
	assigned := make([]events.Assignment, 0, len(out.Placements))
	rec := logging.LogRecord{
		ID:          uuid.NewString(),
		RequestID:   resp.RequestID,
		Timestamp:   now,
		Source:      m.cfg.LogSource,
		Strategy:    strategy,
		Assignments: make(map[string]string, len(out.Placements)),
		Scores:      make(map[string]float64, len(out.Placements)),
		Unassigned:  make(map[string]string, len(resp.Unassigned)),
		Degraded:    resp.Degraded,
		Summary:     resp.Summary,
	}
	for _, p := range out.Placements {
		ordersAssigned.WithLabelValues(strategy, p.Urgency.String()).Inc()
		results = append(results, metrics.AssignmentResult{
			RequestID: resp.RequestID,
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
		rec.Assignments[p.Order.ID] = p.VehicleID
		rec.Scores[p.Order.ID] = p.Score.Total
	}
	for _, u := range resp.Unassigned {
		ordersUnassigned.WithLabelValues(u.Reason).Inc()
		rec.Unassigned[u.OrderID] = u.Reason
	}
	optimizeLatency.WithLabelValues(strategy).Observe(took.Seconds())
	fleetUtilization.Set(resp.Summary.UtilizationRate / 100)
	if resp.Degraded.Routing {
		degradedRuns.WithLabelValues("routing").Inc()
	}

	if err := m.metrics.RecordAssignments(results); err != nil {
		m.logger.Errorf("metrics error: %v", err)
	}
	if rr, ok := m.metrics.(metrics.RunRecorder); ok {
		err := rr.RecordRun(metrics.RunSummary{
			RequestID:       resp.RequestID,
			Strategy:        strategy,
			VehiclesUsed:    resp.Summary.VehiclesUsed,
			VehiclesIdle:    resp.Summary.VehiclesIdle,
			Unassigned:      resp.Summary.UnassignedCount,
			UtilizationRate: resp.Summary.UtilizationRate,
			TotalDistance:   resp.Summary.TotalDistance,
			Degraded:        resp.Degraded,
			Duration:        took,
			Time:            now,
		})
		if err != nil {
			m.logger.Errorf("run metrics error: %v", err)
		}
	}
	if deps.store != nil {
		if err := deps.store.Append(ctx, rec); err != nil {
			m.logger.Errorf("assignment log error: %v", err)
		}
	}
	for _, r := range resp.Routes {
		if deps.statusStore != nil {
			deps.statusStore.RecordAssignment(r.VehicleID, LastAssignment(resp.RequestID, m.cfg.LogSource, r, now))
		}
		if deps.publisher != nil {
			if _, err := deps.publisher.PublishRoute(ctx, resp.RequestID, r); err != nil {
				routePublishes.WithLabelValues("failure").Inc()
				m.logger.Errorf("publish route for %s: %v", r.VehicleID, err)
			} else {
				routePublishes.WithLabelValues("success").Inc()
			}
		}
	}
	m.publish(events.AssignmentEvent{
		RequestID:   resp.RequestID,
		Source:      m.cfg.LogSource,
		Assignments: assigned,
		Time:        now,
	})
	m.logger.Infof("optimize %s: %d routes, %d unassigned, strategy %s", resp.RequestID, len(resp.Routes), len(resp.Unassigned), strategy)
}

// LastAssignment summarises r for the vehicle status store.
func LastAssignment(requestID, source string, r model.Route, now time.Time) vehiclestatus.LastAssignment {
	ds := r.Deliveries()
	orders := make([]string, 0, len(ds))
	for _, s := range ds {
		orders = append(orders, s.OrderID)
	}
	return vehiclestatus.LastAssignment{
		RequestID: requestID,
		Source:    source,
		PickupID:  r.PickupID,
		Orders:    orders,
		Load:      r.TotalLoad,
		Timestamp: now,
	}
}
