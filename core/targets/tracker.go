// Package targets tracks each driver's daily delivery and revenue progress.
package targets

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/model"
)

// Targets are the daily goals of a driver.
type Targets struct {
	Deliveries int     `json:"deliveries"`
	Revenue    float64 `json:"revenue"`
}

// Progress is the ratio of current values to targets. A ratio is zero when
// the corresponding target is unset.
type Progress struct {
	DriverID         string             `json:"driverId"`
	DeliveryProgress float64            `json:"deliveryProgress"`
	RevenueProgress  float64            `json:"revenueProgress"`
	Target           model.DriverTarget `json:"target"`
}

// Mean averages the ratios of the targets that are set, capped at 1.
func (p Progress) Mean() float64 {
	var sum float64
	var n int
	if p.Target.TargetDeliveries > 0 {
		sum += math.Min(1, p.DeliveryProgress)
		n++
	}
	if p.Target.TargetRevenue > 0 {
		sum += math.Min(1, p.RevenueProgress)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func progressOf(t model.DriverTarget) Progress {
	p := Progress{DriverID: t.DriverID, Target: t}
	if t.TargetDeliveries > 0 {
		p.DeliveryProgress = float64(t.CurrentDeliveries) / float64(t.TargetDeliveries)
	}
	if t.TargetRevenue > 0 {
		p.RevenueProgress = t.CurrentRevenue / t.TargetRevenue
	}
	return p
}

// Tracker owns driver target state. Mutations for a driver are serialised
// by a per-driver lock and written through to the Store before the cache is
// updated, so a failed save leaves the cached state untouched.
type Tracker struct {
	store Store
	log   logger.Logger
	now   func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]model.DriverTarget
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker returns a Tracker backed by store.
func NewTracker(store Store, log logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		log:   log,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
		cache: make(map[string]model.DriverTarget),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) lockFor(id string) *sync.Mutex {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	m, ok := t.locks[id]
	if !ok {
		m = &sync.Mutex{}
		t.locks[id] = m
	}
	return m
}

func (t *Tracker) cached(id string) (model.DriverTarget, bool) {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	v, ok := t.cache[id]
	return v, ok
}

func (t *Tracker) remember(v model.DriverTarget) {
	t.cacheMu.Lock()
	t.cache[v.DriverID] = v
	t.cacheMu.Unlock()
}

func (t *Tracker) load(ctx context.Context, id string) (model.DriverTarget, error) {
	if v, ok := t.cached(id); ok {
		return v, nil
	}
	v, err := t.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return model.DriverTarget{DriverID: id}, nil
	}
	if err != nil {
		return model.DriverTarget{}, fmt.Errorf("load target %s: %w", id, err)
	}
	v.DriverID = id
	t.remember(v)
	return v, nil
}

// update applies fn under the driver lock and persists the result.
func (t *Tracker) update(ctx context.Context, id string, fn func(*model.DriverTarget)) (model.DriverTarget, error) {
	if id == "" {
		return model.DriverTarget{}, &model.ValidationError{Field: "driverId", Reason: "missing"}
	}
	m := t.lockFor(id)
	m.Lock()
	defer m.Unlock()
	cur, err := t.load(ctx, id)
	if err != nil {
		return model.DriverTarget{}, err
	}
	fn(&cur)
	cur.UpdatedAt = t.now()
	if err := t.store.Save(ctx, cur); err != nil {
		return model.DriverTarget{}, fmt.Errorf("save target %s: %w", id, err)
	}
	t.remember(cur)
	return cur, nil
}

// GetProgress returns the progress of a driver. The value is read from the
// cache and may lag a concurrent update by one write.
func (t *Tracker) GetProgress(ctx context.Context, driverID string) (Progress, error) {
	v, err := t.load(ctx, driverID)
	if err != nil {
		return Progress{}, err
	}
	return progressOf(v), nil
}

// MeanProgress returns the capped mean progress of each driver. Drivers
// whose state cannot be loaded are reported at zero and logged.
func (t *Tracker) MeanProgress(ctx context.Context, driverIDs []string) map[string]float64 {
	out := make(map[string]float64, len(driverIDs))
	for _, id := range driverIDs {
		p, err := t.GetProgress(ctx, id)
		if err != nil {
			t.log.Warnf("targets: progress for %s unavailable: %v", id, err)
			out[id] = 0
			continue
		}
		out[id] = p.Mean()
	}
	return out
}

// RecordCompletion counts one delivery and adds its revenue.
func (t *Tracker) RecordCompletion(ctx context.Context, driverID string, revenue float64) (model.DriverTarget, error) {
	if revenue < 0 || math.IsNaN(revenue) {
		return model.DriverTarget{}, &model.ValidationError{Subject: driverID, Field: "revenue", Reason: "must not be negative"}
	}
	return t.update(ctx, driverID, func(d *model.DriverTarget) {
		d.CurrentDeliveries++
		d.CurrentRevenue += revenue
	})
}

// SetTargets replaces the daily goals of a driver, keeping current progress.
func (t *Tracker) SetTargets(ctx context.Context, driverID string, goals Targets) (model.DriverTarget, error) {
	if goals.Deliveries < 0 || goals.Revenue < 0 {
		return model.DriverTarget{}, &model.ValidationError{Subject: driverID, Field: "targets", Reason: "must not be negative"}
	}
	return t.update(ctx, driverID, func(d *model.DriverTarget) {
		d.TargetDeliveries = goals.Deliveries
		d.TargetRevenue = goals.Revenue
	})
}

// ResetAll clears the current progress of every known driver and returns
// the number of drivers reset. Targets are kept.
func (t *Tracker) ResetAll(ctx context.Context) (int, error) {
	ids := map[string]struct{}{}
	t.cacheMu.RLock()
	for id := range t.cache {
		ids[id] = struct{}{}
	}
	t.cacheMu.RUnlock()
	if l, ok := t.store.(Lister); ok {
		listed, err := l.List(ctx)
		if err != nil {
			return 0, fmt.Errorf("reset: list drivers: %w", err)
		}
		for _, id := range listed {
			ids[id] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	resetAt := t.now()
	var errs []error
	n := 0
	for _, id := range sorted {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, err := t.update(ctx, id, func(d *model.DriverTarget) {
			d.CurrentDeliveries = 0
			d.CurrentRevenue = 0
			d.LastResetAt = resetAt
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	t.log.Infof("targets: reset %d drivers", n)
	return n, errors.Join(errs...)
}
