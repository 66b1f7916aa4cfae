package redispatch

import (
	"fmt"
	"time"

	"github.com/kilianp07/lastmile/core/dispatch"
)

// Config holds re-dispatch settings.
type Config struct {
	// TickSeconds is the interval between periodic passes.
	TickSeconds int `json:"tick_seconds"`
	// BudgetMs bounds the wall-clock time a pass spends on non-critical
	// orders. Remaining ones are deferred to the next pass.
	BudgetMs int `json:"budget_ms"`
	// FairShare applies to the scored placements of each pass.
	FairShare dispatch.FairShare `json:"fair_share"`
}

// SetDefaults applies a one minute tick and a 500ms budget.
func (c *Config) SetDefaults() {
	if c.TickSeconds == 0 {
		c.TickSeconds = 60
	}
	if c.BudgetMs == 0 {
		c.BudgetMs = 500
	}
}

// Validate checks the intervals.
func (c Config) Validate() error {
	if c.TickSeconds < 0 || c.BudgetMs < 0 {
		return fmt.Errorf("redispatch: tick_seconds and budget_ms must not be negative")
	}
	if err := c.FairShare.Validate(); err != nil {
		return fmt.Errorf("redispatch: %w", err)
	}
	return nil
}

// Interval returns the tick interval.
func (c Config) Interval() time.Duration { return time.Duration(c.TickSeconds) * time.Second }

// Budget returns the pass budget.
func (c Config) Budget() time.Duration { return time.Duration(c.BudgetMs) * time.Millisecond }
