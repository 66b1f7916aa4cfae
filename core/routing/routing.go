// Package routing resolves travel legs between two points. Remote matrix
// services are consulted through a per-request Session that bounds every
// call, falls back to a straight-line estimate and remembers degradation.
package routing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kilianp07/lastmile/core/factory"
	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/model"
)

// Leg is the travel distance and duration between two points.
type Leg struct {
	DistanceKm float64
	Duration   time.Duration
	// Estimated is true when the leg was computed locally.
	Estimated bool
}

// MatrixService resolves legs, typically by calling a remote routing API.
type MatrixService interface {
	GetLeg(ctx context.Context, from, to model.Location) (Leg, error)
}

// Config holds routing settings.
type Config struct {
	// Service selects the remote matrix backend. An empty type means legs
	// are always estimated locally.
	Service          factory.ModuleConfig `json:"service"`
	TimeoutMs        int                  `json:"timeout_ms"`
	FallbackSpeedKmh float64              `json:"fallback_speed_kmh"`
}

// SetDefaults applies a 2s timeout and the 40 km/h urban speed.
func (c *Config) SetDefaults() {
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 2000
	}
	if c.FallbackSpeedKmh == 0 {
		c.FallbackSpeedKmh = 40
	}
}

// Validate checks the routing configuration.
func (c Config) Validate() error {
	if c.TimeoutMs < 0 {
		return fmt.Errorf("routing: timeout_ms must not be negative")
	}
	if !(c.FallbackSpeedKmh > 0) {
		return fmt.Errorf("routing: fallback_speed_kmh must be positive")
	}
	return nil
}

// Estimate returns the great-circle leg at a fixed speed.
func Estimate(from, to model.Location, speedKmh float64) Leg {
	km := model.HaversineKm(from, to)
	return Leg{
		DistanceKm: km,
		Duration:   time.Duration(km / speedKmh * float64(time.Hour)),
		Estimated:  true,
	}
}

// Router builds sessions sharing a matrix service and fallback settings.
type Router struct {
	svc      MatrixService
	timeout  time.Duration
	speedKmh float64
	log      logger.Logger
}

// NewRouter returns a Router. svc may be nil to always estimate locally.
func NewRouter(svc MatrixService, cfg Config, log logger.Logger) *Router {
	cfg.SetDefaults()
	return &Router{
		svc:      svc,
		timeout:  time.Duration(cfg.TimeoutMs) * time.Millisecond,
		speedKmh: cfg.FallbackSpeedKmh,
		log:      log,
	}
}

// SpeedKmh returns the fallback speed.
func (r *Router) SpeedKmh() float64 { return r.speedKmh }

// NewSession starts a request scoped session.
func (r *Router) NewSession() *Session {
	return &Session{r: r, cache: make(map[legKey]Leg)}
}

type legKey struct{ from, to model.Location }

// Session caches legs for one request. After the first remote failure the
// remote service is no longer called for the rest of the session so that a
// slow dependency costs at most one timeout per request.
type Session struct {
	r *Router

	mu       sync.Mutex
	cache    map[legKey]Leg
	degraded bool
	err      error
	calls    int
}

// Leg returns the leg between from and to. It never fails: remote errors
// are recorded and the local estimate is returned instead.
func (s *Session) Leg(ctx context.Context, from, to model.Location) Leg {
	if from == to {
		return Leg{}
	}
	k := legKey{from, to}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.cache[k]; ok {
		return l
	}
	l := s.resolve(ctx, from, to)
	s.cache[k] = l
	return l
}

func (s *Session) resolve(ctx context.Context, from, to model.Location) Leg {
	if s.r.svc == nil || s.degraded {
		return Estimate(from, to, s.r.speedKmh)
	}
	cctx, cancel := context.WithTimeout(ctx, s.r.timeout)
	defer cancel()
	s.calls++
	l, err := s.r.svc.GetLeg(cctx, from, to)
	if err == nil && !validLeg(l) {
		err = fmt.Errorf("invalid leg %.3fkm %s", l.DistanceKm, l.Duration)
	}
	if err != nil {
		s.degraded = true
		s.err = &model.RoutingServiceError{Op: "getLeg", Err: err}
		s.r.log.Warnf("routing: falling back to estimates: %v", s.err)
		return Estimate(from, to, s.r.speedKmh)
	}
	return l
}

func validLeg(l Leg) bool {
	return !math.IsNaN(l.DistanceKm) && !math.IsInf(l.DistanceKm, 0) && l.DistanceKm >= 0 && l.Duration >= 0
}

// Degraded reports whether any leg fell back to an estimate after a
// remote failure.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Err returns the routing failure that degraded the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// RemoteCalls returns the number of calls made to the matrix service.
func (s *Session) RemoteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var serviceRegistry = factory.NewRegistry[MatrixService]()

// RegisterService adds a matrix service factory identified by name.
func RegisterService(name string, f factory.Factory[MatrixService]) error {
	return serviceRegistry.Register(name, f)
}

// NewService creates the configured matrix service. It returns nil when no
// service type is configured.
func NewService(cfg factory.ModuleConfig) (MatrixService, error) {
	if cfg.Type == "" || cfg.Type == "haversine" {
		return nil, nil
	}
	return serviceRegistry.Create(cfg)
}
