// Package app wires the configured components into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/lastmile/api"
	"github.com/kilianp07/lastmile/app/plugins"
	"github.com/kilianp07/lastmile/config"
	"github.com/kilianp07/lastmile/core/advisor"
	"github.com/kilianp07/lastmile/core/deadline"
	"github.com/kilianp07/lastmile/core/dispatch"
	"github.com/kilianp07/lastmile/core/dispatch/logging"
	"github.com/kilianp07/lastmile/core/eta"
	"github.com/kilianp07/lastmile/core/factory"
	coremetrics "github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/redispatch"
	"github.com/kilianp07/lastmile/core/routing"
	"github.com/kilianp07/lastmile/core/scheduler"
	"github.com/kilianp07/lastmile/core/scoring"
	"github.com/kilianp07/lastmile/core/targets"
	vehiclestatus "github.com/kilianp07/lastmile/core/vehiclestatus"
	"github.com/kilianp07/lastmile/infra/logger"
	inframetrics "github.com/kilianp07/lastmile/infra/metrics"
	"github.com/kilianp07/lastmile/infra/mqtt"
	"github.com/kilianp07/lastmile/infra/telemetry"
	"github.com/kilianp07/lastmile/internal/eventbus"
)

// Service owns the dispatch manager, the re-dispatch engine and their
// collaborators.
type Service struct {
	Manager   *dispatch.DispatchManager
	Engine    *redispatch.Engine
	Tracker   *targets.Tracker
	Scheduler *scheduler.Scheduler
	Logs      logging.LogStore

	cfg         *config.Config
	bus         *eventbus.Bus
	sink        coremetrics.MetricsSink
	status      vehiclestatus.Store
	targetStore targets.Store
	publisher   *mqtt.PahoClient
	events      *telemetry.Listener
	log         logger.Logger

	mu   sync.Mutex
	addr net.Addr
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	c, err := newCore(cfg)
	if err != nil {
		return nil, err
	}
	svc := &Service{cfg: cfg, log: logg, bus: eventbus.New(), status: vehiclestatus.NewMemoryStore()}
	ok := false
	defer func() {
		if !ok {
			_ = svc.Close()
		}
	}()

	svc.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	svc.targetStore, err = targets.NewStore(cfg.Targets)
	if err != nil {
		return nil, fmt.Errorf("target store: %w", err)
	}
	svc.Tracker = targets.NewTracker(svc.targetStore, logger.New("targets"))
	svc.Logs, err = OpenLogStore(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("log store: %w", err)
	}
	if cfg.MQTTEnabled() {
		svc.publisher, err = mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
	}

	svc.Manager, err = dispatch.NewDispatchManager(cfg.Dispatch, c.classifier, c.scorer, c.router, c.eta, svc.sink, svc.bus, logger.New("dispatch"))
	if err != nil {
		return nil, fmt.Errorf("dispatch manager: %w", err)
	}
	svc.Manager.SetTracker(svc.Tracker)
	svc.Manager.SetStatusStore(svc.status)
	if svc.Logs != nil {
		svc.Manager.SetLogStore(svc.Logs)
	}
	if svc.publisher != nil {
		svc.Manager.SetPublisher(svc.publisher)
	}
	if cfg.Advisor.Enabled {
		chain, err := advisor.NewChainFromConfig(cfg.Advisor, logger.New("advisor"))
		if err != nil {
			return nil, fmt.Errorf("advisor: %w", err)
		}
		svc.Manager.SetAdvisor(chain)
	}

	svc.Engine, err = redispatch.NewEngine(cfg.Redispatch, c.classifier, c.scorer, c.router, c.eta, logger.New("redispatch"))
	if err != nil {
		return nil, fmt.Errorf("redispatch engine: %w", err)
	}
	svc.Engine.SetTracker(svc.Tracker)
	svc.Engine.SetStatusStore(svc.status)
	svc.Engine.SetBus(svc.bus)
	svc.Engine.SetMetrics(svc.sink)
	if svc.Logs != nil {
		svc.Engine.SetLogStore(svc.Logs)
	}
	if svc.publisher != nil {
		svc.Engine.SetPublisher(svc.publisher)
		svc.events, err = telemetry.NewListener(cfg.MQTT, svc.Engine)
		if err != nil {
			return nil, fmt.Errorf("driver events: %w", err)
		}
	}

	svc.Scheduler, err = scheduler.New(cfg.Scheduler, svc.Tracker, logger.New("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	ok = true
	return svc, nil
}

type core struct {
	classifier *deadline.Classifier
	scorer     *scoring.Scorer
	router     *routing.Router
	eta        *eta.Propagator
}

func newCore(cfg *config.Config) (core, error) {
	cls, err := deadline.NewClassifier(cfg.Deadline)
	if err != nil {
		return core{}, fmt.Errorf("deadline: %w", err)
	}
	scorer, err := scoring.NewScorer(cfg.Scoring)
	if err != nil {
		return core{}, fmt.Errorf("scoring: %w", err)
	}
	matrix, err := routing.NewService(cfg.Routing.Service)
	if err != nil {
		return core{}, fmt.Errorf("routing: %w", err)
	}
	return core{
		classifier: cls,
		scorer:     scorer,
		router:     routing.NewRouter(matrix, cfg.Routing, logger.New("routing")),
		eta:        eta.NewPropagator(cfg.ETA, cls.Location()),
	}, nil
}

// NewManager builds a dispatch manager without the long running parts of
// the service. The optimize command uses it for one-off runs.
func NewManager(cfg *config.Config) (*dispatch.DispatchManager, error) {
	c, err := newCore(cfg)
	if err != nil {
		return nil, err
	}
	return dispatch.NewDispatchManager(cfg.Dispatch, c.classifier, c.scorer, c.router, c.eta, nil, nil, logger.New("dispatch"))
}

// OpenLogStore opens the configured assignment log store. It returns nil
// for the "none" backend.
func OpenLogStore(lc config.LoggingConfig) (logging.LogStore, error) {
	lc.SetDefaults()
	if lc.Backend == "none" {
		return nil, nil
	}
	return plugins.NewLogStore(factory.ModuleConfig{Type: lc.Backend, Conf: map[string]any{
		"path":         lc.Path,
		"max_size_mb":  lc.MaxSizeMB,
		"max_backups":  lc.MaxBackups,
		"max_age_days": lc.MaxAgeDays,
	}})
}

// Run starts the periodic passes, the reset scheduler, the metrics event
// collector and the HTTP server. It blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	inframetrics.StartEventCollector(ctx, s.bus, s.sink)
	go s.Engine.Run(ctx, s.cfg.Redispatch.Interval())
	go s.Scheduler.Run(ctx)
	if s.events != nil {
		go s.events.Run(ctx)
	}

	deps := api.Deps{
		Optimizer:   s.Manager,
		LogsToken:   s.cfg.Server.LogsToken,
		Status:      s.status,
		Engine:      s.Engine,
		Alerts:      s.Engine.Alerts(),
		Gatherer:    prometheus.DefaultGatherer,
		MetricsPath: s.cfg.Metrics.PrometheusPath,
		Log:         s.log,
	}
	if s.Logs != nil {
		deps.Logs = s.Logs
	}
	srv := &http.Server{
		Handler:      api.NewMux(deps),
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSeconds) * time.Second,
	}
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.log.Infof("listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr returns the address the HTTP server listens on once Run started.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.Engine != nil {
		s.Engine.Close()
	}
	if s.Manager != nil {
		// the manager owns the shared log store
		errs = append(errs, s.Manager.Close())
	} else if s.Logs != nil {
		errs = append(errs, s.Logs.Close())
	}
	if s.publisher != nil {
		s.publisher.Disconnect()
	}
	if c, ok := s.targetStore.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	return errors.Join(errs...)
}
