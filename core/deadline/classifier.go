// Package deadline computes SLA deadlines under business hour rules and
// buckets orders by urgency.
package deadline

import (
	"fmt"
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

// Assessment is the deadline and urgency of an order at a given instant.
type Assessment struct {
	OrderID          string
	Deadline         time.Time
	RemainingMinutes float64
	Urgency          model.Urgency
}

// Classifier computes deadlines and urgency. It is immutable and safe for
// concurrent use.
type Classifier struct {
	cfg     Config
	loc     *time.Location
	restDay time.Weekday
}

// NewClassifier validates cfg and returns a Classifier.
func NewClassifier(cfg Config) (*Classifier, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, _ := time.LoadLocation(cfg.Timezone)
	rest, _ := parseWeekday(cfg.RestDay)
	return &Classifier{cfg: cfg, loc: loc, restDay: rest}, nil
}

// Config returns the effective configuration.
func (c *Classifier) Config() Config { return c.cfg }

// Location returns the calendar time zone.
func (c *Classifier) Location() *time.Location { return c.loc }

// Deadline returns the SLA deadline of an order.
//
// When createdAt+sla would pass the daily cutoff, the time left before the
// cutoff is consumed and the remainder is granted from the next business
// day opening. Orders created after the cutoff start consuming their SLA at
// the next opening.
func (c *Classifier) Deadline(createdAt time.Time, slaHours float64) (time.Time, error) {
	if createdAt.IsZero() {
		return time.Time{}, &model.ValidationError{Field: "createdAt", Reason: "missing"}
	}
	if !(slaHours > 0) {
		return time.Time{}, &model.ValidationError{Field: "slaHours", Reason: "must be positive"}
	}
	local := createdAt.In(c.loc)
	sla := time.Duration(slaHours * float64(time.Hour))
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), c.cfg.CutoffHour, c.cfg.CutoffMinute, 0, 0, c.loc)

	naive := local.Add(sla)
	if !naive.After(cutoff) {
		return naive, nil
	}
	untilCutoff := cutoff.Sub(local)
	if untilCutoff < 0 {
		untilCutoff = 0
	}
	unused := sla - untilCutoff
	return c.nextBusinessStart(local).Add(unused), nil
}

// nextBusinessStart returns the opening time of the calendar day after t.
func (c *Classifier) nextBusinessStart(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, c.loc)
	h, m := c.cfg.OpenHour, c.cfg.OpenMinute
	if next.Weekday() == c.restDay {
		h, m = c.cfg.RestDayOpenHour, c.cfg.RestDayOpenMinute
	}
	return time.Date(next.Year(), next.Month(), next.Day(), h, m, 0, 0, c.loc)
}

// Bucket maps remaining minutes to an urgency category. Overdue orders are
// critical.
func (c *Classifier) Bucket(remainingMinutes float64) model.Urgency {
	switch {
	case remainingMinutes < c.cfg.CriticalMinutes:
		return model.UrgencyCritical
	case remainingMinutes < c.cfg.UrgentMinutes:
		return model.UrgencyUrgent
	case remainingMinutes < c.cfg.NormalMinutes:
		return model.UrgencyNormal
	default:
		return model.UrgencyFlexible
	}
}

// Classify computes the deadline and urgency of o at now. Invalid orders
// yield a *model.ValidationError carrying the order id.
func (c *Classifier) Classify(o model.DeliveryOrder, now time.Time) (Assessment, error) {
	dl, err := c.Deadline(o.CreatedAt, o.SLAHours)
	if err != nil {
		if ve, ok := err.(*model.ValidationError); ok {
			ve.OrderID = o.ID
		}
		return Assessment{}, fmt.Errorf("classify: %w", err)
	}
	remaining := dl.Sub(now).Minutes()
	return Assessment{
		OrderID:          o.ID,
		Deadline:         dl,
		RemainingMinutes: remaining,
		Urgency:          c.Bucket(remaining),
	}, nil
}

// ClassifyAll classifies orders, returning assessments keyed by order id and
// the orders rejected as invalid.
func (c *Classifier) ClassifyAll(orders []model.DeliveryOrder, now time.Time) (map[string]Assessment, []model.Unassigned) {
	out := make(map[string]Assessment, len(orders))
	var rejected []model.Unassigned
	for _, o := range orders {
		a, err := c.Classify(o, now)
		if err != nil {
			rejected = append(rejected, model.NewUnassigned(o.ID, err))
			continue
		}
		out[o.ID] = a
	}
	return out, rejected
}
