package dispatch

import "fmt"

// FairShare makes the scored strategy try the pool vehicles holding fewer
// than ceil(orders/poolSize)+Slack orders of a pickup before the rest of
// the pool. Inside each tier the lowest total still wins. Without it the
// nearest vehicle absorbs a whole pickup until it is full.
type FairShare struct {
	Disabled bool `json:"disabled"`
	// Slack lets a vehicle go this many orders over the even split.
	Slack int `json:"slack"`
}

// Share returns the per-vehicle cap for total orders over n pool vehicles,
// or 0 when the tier is disabled.
func (f FairShare) Share(total, n int) int {
	if f.Disabled || n == 0 {
		return 0
	}
	return (total+n-1)/n + f.Slack
}

// Validate rejects a negative slack.
func (f FairShare) Validate() error {
	if f.Slack < 0 {
		return fmt.Errorf("fair_share: slack must not be negative")
	}
	return nil
}

// Config defines dispatch related settings.
type Config struct {
	// Strategy is the default used when a request does not name one.
	Strategy string `json:"strategy"`
	// UseAdvisor consults the advisor chain for every request.
	UseAdvisor bool `json:"use_advisor"`
	// LogSource tags assignment log records written by the manager.
	LogSource string `json:"log_source"`
	// FairShare spreads a pickup's orders across its pool.
	FairShare FairShare `json:"fair_share"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyScored.String()
	}
	if c.LogSource == "" {
		c.LogSource = "optimize"
	}
}

// Validate checks the default strategy and the fair share slack.
func (c Config) Validate() error {
	if _, err := ParseStrategy(c.Strategy); err != nil {
		return err
	}
	return c.FairShare.Validate()
}
