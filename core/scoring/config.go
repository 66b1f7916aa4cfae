package scoring

import (
	"fmt"
	"math"
)

// LoadTiers map vehicle utilisation to a load balance cost. The values come
// from field tuning and are kept configurable rather than derived.
type LoadTiers struct {
	OverCapacityPenalty float64 `json:"over_capacity_penalty"`
	HighThreshold       float64 `json:"high_threshold"`
	HighPenalty         float64 `json:"high_penalty"`
	MediumThreshold     float64 `json:"medium_threshold"`
	MediumPenalty       float64 `json:"medium_penalty"`
	// Below MediumThreshold the cost is LinearBase - utilisation*LinearSlope.
	LinearBase  float64 `json:"linear_base"`
	LinearSlope float64 `json:"linear_slope"`
}

// DefaultLoadTiers returns 100 over capacity, 10 above 90%, 30 above 70%
// and 70-100u otherwise.
func DefaultLoadTiers() LoadTiers {
	return LoadTiers{
		OverCapacityPenalty: 100,
		HighThreshold:       0.9,
		HighPenalty:         10,
		MediumThreshold:     0.7,
		MediumPenalty:       30,
		LinearBase:          70,
		LinearSlope:         100,
	}
}

// Penalty returns the cost for utilisation u and whether the candidate must
// be excluded.
func (t LoadTiers) Penalty(u float64) (float64, bool) {
	switch {
	case u > 1:
		return t.OverCapacityPenalty, true
	case u > t.HighThreshold:
		return t.HighPenalty, false
	case u > t.MediumThreshold:
		return t.MediumPenalty, false
	default:
		return clamp(t.LinearBase - u*t.LinearSlope), false
	}
}

// Config holds scorer settings.
type Config struct {
	// Preset names the weight vector. CustomWeights takes precedence when set.
	Preset        string             `json:"preset"`
	CustomWeights map[string]float64 `json:"custom_weights"`
	// DistanceScaleKm is the distance mapped to the maximum cost of 100.
	DistanceScaleKm float64 `json:"distance_scale_km"`
	// DensityFactor is k in max(0, 100 - avgDistanceKm*k).
	DensityFactor float64 `json:"density_factor"`
	// FairnessBias is added per unit of driver progress, so drivers behind
	// target win close calls.
	FairnessBias float64 `json:"fairness_bias"`
	// DisableFairness drops the driver progress term. A zero FairnessBias
	// alone means "use the default".
	DisableFairness bool      `json:"disable_fairness"`
	LoadTiers       LoadTiers `json:"load_tiers"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.DistanceScaleKm == 0 {
		c.DistanceScaleKm = 50
	}
	if c.DensityFactor == 0 {
		c.DensityFactor = 10
	}
	switch {
	case c.DisableFairness:
		c.FairnessBias = 0
	case c.FairnessBias == 0:
		c.FairnessBias = 2
	}
	if c.LoadTiers == (LoadTiers{}) {
		c.LoadTiers = DefaultLoadTiers()
	}
}

// Weights resolves the configured weight vector.
func (c Config) Weights() (Weights, error) {
	if len(c.CustomWeights) > 0 {
		return FromMap(c.CustomWeights)
	}
	return Preset(c.Preset)
}

// Validate checks the configuration, including the weight vector.
func (c Config) Validate() error {
	if _, err := c.Weights(); err != nil {
		return err
	}
	if !(c.DistanceScaleKm > 0) || !(c.DensityFactor > 0) {
		return fmt.Errorf("scoring: distance_scale_km and density_factor must be positive")
	}
	if c.FairnessBias < 0 || math.IsNaN(c.FairnessBias) {
		return fmt.Errorf("scoring: fairness_bias must not be negative")
	}
	t := c.LoadTiers
	if !(t.MediumThreshold > 0 && t.MediumThreshold < t.HighThreshold && t.HighThreshold <= 1) {
		return fmt.Errorf("scoring: load tiers must satisfy 0 < medium < high <= 1")
	}
	return nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
