// Package advisor consults optional strategy providers. Providers are tried
// in order and the first usable answer wins. The caller gets either a tagged
// result naming the provider or an explicit unavailable result.
package advisor

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/lastmile/core/factory"
	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/scoring"
)

// Context summarises a request for providers.
type Context struct {
	Orders         int     `json:"orders"`
	Vehicles       int     `json:"vehicles"`
	Pickups        int     `json:"pickups"`
	CriticalOrders int     `json:"criticalOrders"`
	TotalLoad      float64 `json:"totalLoad"`
	TotalCapacity  float64 `json:"totalCapacity"`
}

// Suggestion is a provider's advice: a preset name or explicit weights.
type Suggestion struct {
	Preset  string             `json:"preset,omitempty"`
	Weights map[string]float64 `json:"weights,omitempty"`
}

// Resolve turns the suggestion into a validated weight vector.
func (s Suggestion) Resolve() (scoring.Weights, error) {
	if len(s.Weights) > 0 {
		return scoring.FromMap(s.Weights)
	}
	if s.Preset == "" {
		return scoring.Weights{}, fmt.Errorf("empty suggestion")
	}
	return scoring.Preset(s.Preset)
}

// Provider suggests a scoring strategy.
type Provider interface {
	Name() string
	SuggestStrategy(ctx context.Context, c Context) (Suggestion, error)
}

// Result is the tagged outcome of a chain consultation.
type Result struct {
	Provider  string
	Value     Suggestion
	Weights   scoring.Weights
	Available bool
}

// Unavailable is the result returned when no provider answered.
var Unavailable = Result{}

// Config holds advisor settings.
type Config struct {
	Enabled   bool                   `json:"enabled"`
	TimeoutMs int                    `json:"timeout_ms"`
	Providers []factory.ModuleConfig `json:"providers"`
}

// SetDefaults applies a 1.5s timeout per provider.
func (c *Config) SetDefaults() {
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 1500
	}
}

// Validate checks the timeout.
func (c Config) Validate() error {
	if c.TimeoutMs < 0 {
		return fmt.Errorf("advisor: timeout_ms must not be negative")
	}
	return nil
}

// Chain tries providers in order.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	log       logger.Logger
}

// NewChain returns a Chain bounding each provider call by timeout.
func NewChain(timeout time.Duration, log logger.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, timeout: timeout, log: log}
}

// Len returns the number of providers.
func (c *Chain) Len() int { return len(c.providers) }

// Suggest returns the first valid suggestion. When every provider fails the
// result is Unavailable and the error is a *model.AdvisorUnavailableError.
func (c *Chain) Suggest(ctx context.Context, in Context) (Result, error) {
	var errs []error
	for _, p := range c.providers {
		s, err := c.call(ctx, p, in)
		if err == nil {
			var w scoring.Weights
			w, err = s.Resolve()
			if err == nil {
				c.log.Debugw("advisor suggestion", map[string]any{"provider": p.Name(), "preset": s.Preset})
				return Result{Provider: p.Name(), Value: s, Weights: w, Available: true}, nil
			}
		}
		c.log.Warnf("advisor: provider %s failed: %v", p.Name(), err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return Unavailable, &model.AdvisorUnavailableError{Errs: errs}
}

func (c *Chain) call(ctx context.Context, p Provider, in Context) (Suggestion, error) {
	if c.timeout <= 0 {
		return p.SuggestStrategy(ctx, in)
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return p.SuggestStrategy(cctx, in)
}

var providerRegistry = factory.NewRegistry[Provider]()

func init() {
	_ = RegisterProvider("rules", func(conf map[string]any) (Provider, error) {
		var r RulesProvider
		if err := factory.Decode(conf, &r); err != nil {
			return nil, err
		}
		return r, nil
	})
}

// RegisterProvider adds a provider factory identified by name.
func RegisterProvider(name string, f factory.Factory[Provider]) error {
	return providerRegistry.Register(name, f)
}

// NewChainFromConfig builds the configured provider chain.
func NewChainFromConfig(cfg Config, log logger.Logger) (*Chain, error) {
	cfg.SetDefaults()
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := providerRegistry.Create(pc)
		if err != nil {
			return nil, fmt.Errorf("advisor provider %s: %w", pc.Type, err)
		}
		providers = append(providers, p)
	}
	return NewChain(time.Duration(cfg.TimeoutMs)*time.Millisecond, log, providers...), nil
}
