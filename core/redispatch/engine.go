// Package redispatch keeps live routes consistent as orders arrive, time
// passes and drivers go off duty. Work happens in serialized passes; reads
// go through snapshots and never wait for a pass to finish computing.
package redispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/lastmile/core/deadline"
	"github.com/kilianp07/lastmile/core/dispatch"
	"github.com/kilianp07/lastmile/core/dispatch/logging"
	"github.com/kilianp07/lastmile/core/eta"
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

// Pass triggers.
const (
	TriggerNewOrder     = "new_order"
	TriggerTick         = "tick"
	TriggerDriverStatus = "driver_status"
)

var (
	// ErrUnknownVehicle is returned for operations on a vehicle the engine
	// does not track.
	ErrUnknownVehicle = errors.New("unknown vehicle")
	// ErrUnknownStop is returned when an order is not on the named route.
	ErrUnknownStop = errors.New("order not on route")
)

// Report summarises one pass.
type Report struct {
	Trigger string `json:"trigger"`
	// Placed counts pending orders that received a vehicle.
	Placed int `json:"placed"`
	// Reassigned counts orders moved from one vehicle to another.
	Reassigned int                 `json:"reassigned"`
	AtRisk     []model.AtRiskAlert `json:"atRisk"`
	Deferred   []string            `json:"deferred"`
	Duration   time.Duration       `json:"durationNs"`
}

// State is a read-only view of the engine.
type State struct {
	Routes      []model.Route `json:"routes"`
	Pending     []string      `json:"pending"`
	Unavailable []string      `json:"unavailable"`
}

// Engine maintains live routes.
type Engine struct {
	cfg        Config
	classifier *deadline.Classifier
	scorer     *scoring.Scorer
	router     *routing.Router
	eta        *eta.Propagator
	log        logger.Logger
	alerts     *eventbus.TypedBus[model.AtRiskAlert]

	tracker   *targets.Tracker
	status    vehiclestatus.Store
	bus       eventbus.EventBus
	publisher mqtt.Publisher
	sink      metrics.MetricsSink
	store     logging.LogStore
	now       func() time.Time
	since     func(time.Time) time.Duration

	// passMu serializes passes and every mutation. mu guards the fields
	// below for snapshot readers.
	passMu   sync.Mutex
	mu       sync.RWMutex
	vehicles map[string]model.Vehicle
	pickups  map[string]model.PickupPoint
	routes   map[string]model.Route
	orders   map[string]model.DeliveryOrder
	pending  map[string]struct{}
	// seen is the urgency of each order at the end of the previous pass.
	seen map[string]model.Urgency
	// alerted holds the reason of the last at-risk alert per order. It is
	// cleared once the order is placed.
	alerted map[string]string
}

// NewEngine returns an engine with an in-memory driver status store.
func NewEngine(cfg Config, classifier *deadline.Classifier, scorer *scoring.Scorer, router *routing.Router, prop *eta.Propagator, log logger.Logger) (*Engine, error) {
	if classifier == nil || scorer == nil || router == nil || prop == nil || log == nil {
		return nil, fmt.Errorf("redispatch: nil parameter provided to NewEngine")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		scorer:     scorer,
		router:     router,
		eta:        prop,
		log:        log,
		alerts:     eventbus.NewTyped[model.AtRiskAlert](),
		status:     vehiclestatus.NewMemoryStore(),
		sink:       metrics.NopSink{},
		now:        time.Now,
		since:      time.Since,
		vehicles:   map[string]model.Vehicle{},
		pickups:    map[string]model.PickupPoint{},
		routes:     map[string]model.Route{},
		orders:     map[string]model.DeliveryOrder{},
		pending:    map[string]struct{}{},
		seen:       map[string]model.Urgency{},
		alerted:    map[string]string{},
	}, nil
}

// SetTracker configures the tracker receiving delivery completions.
func (e *Engine) SetTracker(t *targets.Tracker) {
	e.passMu.Lock()
	e.tracker = t
	e.passMu.Unlock()
}

// SetStatusStore replaces the driver availability store.
func (e *Engine) SetStatusStore(s vehiclestatus.Store) {
	if s == nil {
		return
	}
	e.passMu.Lock()
	e.status = s
	e.passMu.Unlock()
}

// SetBus configures the event bus receiving pass events.
func (e *Engine) SetBus(b eventbus.EventBus) {
	e.passMu.Lock()
	e.bus = b
	e.passMu.Unlock()
}

// SetPublisher configures the MQTT publisher for routes and alerts.
func (e *Engine) SetPublisher(p mqtt.Publisher) {
	e.passMu.Lock()
	e.publisher = p
	e.passMu.Unlock()
}

// SetMetrics configures the metrics sink.
func (e *Engine) SetMetrics(s metrics.MetricsSink) {
	if s == nil {
		s = metrics.NopSink{}
	}
	e.passMu.Lock()
	e.sink = s
	e.passMu.Unlock()
}

// SetLogStore configures the assignment log.
func (e *Engine) SetLogStore(s logging.LogStore) {
	e.passMu.Lock()
	e.store = s
	e.passMu.Unlock()
}

// SetClock replaces the reference clock used for urgency and ETAs.
func (e *Engine) SetClock(now func() time.Time) {
	e.passMu.Lock()
	e.now = now
	e.passMu.Unlock()
}

// Alerts returns the bus carrying at-risk alerts.
func (e *Engine) Alerts() *eventbus.TypedBus[model.AtRiskAlert] { return e.alerts }

// Close stops alert delivery.
func (e *Engine) Close() {
	e.alerts.Close()
}

// UpsertPickup registers or moves a pickup point.
func (e *Engine) UpsertPickup(p model.PickupPoint) error {
	if p.ID == "" || !p.Location.Valid() {
		return &model.ValidationError{Subject: p.ID, Field: "pickup", Reason: "invalid"}
	}
	e.passMu.Lock()
	defer e.passMu.Unlock()
	e.mu.Lock()
	e.pickups[p.ID] = p
	e.mu.Unlock()
	return nil
}

// UpsertVehicle registers a vehicle or updates its position and capacity.
// A CurrentRoute on v seeds the live route when the engine has none yet.
func (e *Engine) UpsertVehicle(v model.Vehicle) error {
	if err := v.Validate(); err != nil {
		return err
	}
	e.passMu.Lock()
	defer e.passMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if r := v.CurrentRoute; r != nil {
		if _, ok := e.routes[v.ID]; !ok && len(r.Deliveries()) > 0 {
			cp := r.Clone()
			cp.VehicleID = v.ID
			e.routes[v.ID] = cp
		}
	}
	v.CurrentRoute = nil
	e.vehicles[v.ID] = v
	if _, ok := e.status.Get(v.ID); !ok {
		e.status.Set(vehiclestatus.Status{VehicleID: v.ID, DriverID: v.Driver(), Available: true, CurrentStatus: vehiclestatus.StatusIdle})
	}
	return nil
}

// SubmitOrder validates and registers a new order, then runs a pass.
func (e *Engine) SubmitOrder(ctx context.Context, o model.DeliveryOrder) (Report, error) {
	if err := o.Validate(); err != nil {
		return Report{}, fmt.Errorf("submit: %w", err)
	}
	e.passMu.Lock()
	defer e.passMu.Unlock()
	if _, err := e.classifier.Classify(o, e.now()); err != nil {
		return Report{}, fmt.Errorf("submit: %w", err)
	}
	e.mu.Lock()
	if _, ok := e.pickups[o.PickupID]; !ok {
		e.mu.Unlock()
		return Report{}, fmt.Errorf("submit: %w", &model.ValidationError{OrderID: o.ID, Field: "pickupId", Reason: fmt.Sprintf("unknown pickup %q", o.PickupID)})
	}
	if _, dup := e.orders[o.ID]; dup {
		e.mu.Unlock()
		return Report{}, fmt.Errorf("submit: %w", &model.ValidationError{OrderID: o.ID, Field: "id", Reason: "duplicate"})
	}
	e.orders[o.ID] = o
	e.pending[o.ID] = struct{}{}
	e.mu.Unlock()
	return e.pass(ctx, TriggerNewOrder), nil
}

// Tick runs a periodic pass.
func (e *Engine) Tick(ctx context.Context) Report {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	return e.pass(ctx, TriggerTick)
}

// SetDriverStatus records the availability of a vehicle's driver and runs
// a pass so that orders move off an unavailable vehicle.
func (e *Engine) SetDriverStatus(ctx context.Context, vehicleID string, available bool) (Report, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	e.mu.RLock()
	_, ok := e.vehicles[vehicleID]
	e.mu.RUnlock()
	if !ok {
		return Report{}, fmt.Errorf("driver status %s: %w", vehicleID, ErrUnknownVehicle)
	}
	e.status.SetAvailability(vehicleID, available)
	e.log.Infof("redispatch: vehicle %s available=%t", vehicleID, available)
	return e.pass(ctx, TriggerDriverStatus), nil
}

// MarkPickedUp locks an order on its vehicle. Locked orders are never
// reassigned.
func (e *Engine) MarkPickedUp(vehicleID, orderID string) error {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.routes[vehicleID]
	if !ok {
		return fmt.Errorf("pick up %s on %s: %w", orderID, vehicleID, ErrUnknownStop)
	}
	r = r.Clone()
	for i := range r.Stops {
		if r.Stops[i].Type == model.StopDelivery && r.Stops[i].OrderID == orderID {
			r.Stops[i].Locked = true
			e.routes[vehicleID] = r
			return nil
		}
	}
	return fmt.Errorf("pick up %s on %s: %w", orderID, vehicleID, ErrUnknownStop)
}

// CompleteDelivery removes a delivered order, credits the driver and
// refreshes the arrival times of the remaining stops from the delivery
// location.
func (e *Engine) CompleteDelivery(ctx context.Context, vehicleID, orderID string) error {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	now := e.now()

	e.mu.RLock()
	r, ok := e.routes[vehicleID]
	v := e.vehicles[vehicleID]
	o := e.orders[orderID]
	e.mu.RUnlock()
	if !ok || !r.HasOrder(orderID) {
		return fmt.Errorf("complete %s on %s: %w", orderID, vehicleID, ErrUnknownStop)
	}

	r = r.Clone()
	kept := r.Stops[:0]
	for _, s := range r.Stops {
		if s.Type == model.StopDelivery && s.OrderID == orderID {
			v.Location = s.Location
			continue
		}
		kept = append(kept, s)
	}
	r.Stops = kept
	keep := len(r.Deliveries()) > 0
	if keep {
		if p, ok := e.pickupOf(r.PickupID); ok {
			r.Stops = dispatch.Sequence(p, r.Stops)
			dispatch.Measure(&r, v.Capacity, e.scorer, nil)
		}
		e.eta.Propagate(ctx, e.router.NewSession(), v.Location, now, &r)
	}

	e.mu.Lock()
	if keep {
		e.routes[vehicleID] = r
	} else {
		delete(e.routes, vehicleID)
	}
	e.vehicles[vehicleID] = v
	delete(e.orders, orderID)
	delete(e.seen, orderID)
	delete(e.alerted, orderID)
	e.mu.Unlock()

	if e.tracker != nil {
		if _, err := e.tracker.RecordCompletion(ctx, v.Driver(), o.Revenue); err != nil {
			return fmt.Errorf("complete %s: %w", orderID, err)
		}
	}
	return nil
}

func (e *Engine) pickupOf(id string) (model.PickupPoint, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pickups[id]
	return p, ok
}

// Run drives periodic passes until ctx is canceled. A non-positive interval
// uses the configured tick.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = e.cfg.Interval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rep := e.Tick(ctx)
			if rep.Reassigned > 0 || len(rep.AtRisk) > 0 {
				e.log.Infof("redispatch tick: %d reassigned, %d at risk, %d deferred", rep.Reassigned, len(rep.AtRisk), len(rep.Deferred))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot returns a copy of the live state.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := State{Routes: make([]model.Route, 0, len(e.routes)), Pending: make([]string, 0, len(e.pending)), Unavailable: []string{}}
	for _, r := range e.routes {
		st.Routes = append(st.Routes, r.Clone())
	}
	sort.Slice(st.Routes, func(i, j int) bool { return st.Routes[i].VehicleID < st.Routes[j].VehicleID })
	for id := range e.pending {
		st.Pending = append(st.Pending, id)
	}
	sort.Strings(st.Pending)
	for id := range e.vehicles {
		if !e.availableLocked(id) {
			st.Unavailable = append(st.Unavailable, id)
		}
	}
	sort.Strings(st.Unavailable)
	return st
}

func (e *Engine) availableLocked(id string) bool {
	st, ok := e.status.Get(id)
	return !ok || st.Available
}
