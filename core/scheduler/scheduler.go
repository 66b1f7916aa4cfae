package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/targets"
)

// Resetter is the part of the target tracker the scheduler drives.
type Resetter interface {
	ResetAll(ctx context.Context) (int, error)
	SetTargets(ctx context.Context, driverID string, goals targets.Targets) (model.DriverTarget, error)
}

// Scheduler runs the daily reset.
type Scheduler struct {
	cfg     SchedulerConfig
	loc     *time.Location
	tracker Resetter
	log     logger.Logger
	now     func() time.Time
}

// New returns a scheduler for cfg.
func New(cfg SchedulerConfig, tracker Resetter, log logger.Logger) (*Scheduler, error) {
	if tracker == nil || log == nil {
		return nil, errors.New("scheduler: nil tracker or logger")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, _ := time.LoadLocation(cfg.Timezone)
	return &Scheduler{cfg: cfg, loc: loc, tracker: tracker, log: log, now: time.Now}, nil
}

// Next returns the first reset strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	local := t.In(s.loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.ResetHour, s.cfg.ResetMinute, 0, 0, s.loc)
	if !at.After(local) {
		at = time.Date(local.Year(), local.Month(), local.Day()+1, s.cfg.ResetHour, s.cfg.ResetMinute, 0, 0, s.loc)
	}
	return at
}

// RunOnce resets every driver and applies the configured goals.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	n, err := s.tracker.ResetAll(ctx)
	errs := []error{}
	if err != nil {
		errs = append(errs, err)
	}
	for _, g := range s.cfg.Goals {
		if _, err := s.tracker.SetTargets(ctx, g.DriverID, g.Targets()); err != nil {
			errs = append(errs, fmt.Errorf("goal %s: %w", g.DriverID, err))
		}
	}
	return n, errors.Join(errs...)
}

// Run waits for each reset time until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.Next(s.now())
		s.log.Debugf("scheduler: next reset at %s", next.Format(time.RFC3339))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			n, err := s.RunOnce(ctx)
			if err != nil {
				s.log.Errorf("scheduler: reset: %v", err)
			}
			s.log.Infof("scheduler: daily reset done for %d drivers", n)
		}
	}
}
