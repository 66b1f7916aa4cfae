package advisor

import (
	"context"

	"github.com/kilianp07/lastmile/core/scoring"
)

// RulesProvider derives a preset from simple fleet ratios. It never fails
// and is meant to close a chain of remote providers.
type RulesProvider struct {
	// CriticalShare above which proximity is favoured.
	CriticalShare float64 `json:"critical_share"`
	// LoadShare of total capacity above which load balancing is favoured.
	LoadShare float64 `json:"load_share"`
}

func (RulesProvider) Name() string { return "rules" }

func (r RulesProvider) SuggestStrategy(_ context.Context, c Context) (Suggestion, error) {
	critical, load := r.CriticalShare, r.LoadShare
	if critical == 0 {
		critical = 0.3
	}
	if load == 0 {
		load = 0.8
	}
	switch {
	case c.Orders > 0 && float64(c.CriticalOrders)/float64(c.Orders) >= critical:
		return Suggestion{Preset: scoring.PresetProximityFocused}, nil
	case c.TotalCapacity > 0 && c.TotalLoad/c.TotalCapacity >= load:
		return Suggestion{Preset: scoring.PresetLoadBalanced}, nil
	case c.Pickups > 0 && c.Orders/c.Pickups >= 2*max(1, c.Vehicles/c.Pickups):
		return Suggestion{Preset: scoring.PresetClusterOptimized}, nil
	default:
		return Suggestion{Preset: scoring.PresetDefault}, nil
	}
}
