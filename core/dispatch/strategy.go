package dispatch

import (
	"fmt"
	"strings"

	"github.com/kilianp07/lastmile/core/model"
)

// Strategy selects how orders are spread over a pickup's vehicles.
type Strategy int

const (
	// StrategyScored places each order on the lowest cost vehicle.
	StrategyScored Strategy = iota
	// StrategyRoundRobin cycles through a pickup's vehicles.
	StrategyRoundRobin
)

func (s Strategy) String() string {
	switch s {
	case StrategyRoundRobin:
		return "round-robin"
	default:
		return "scored"
	}
}

// ParseStrategy maps a preference string to a Strategy. The empty string
// selects StrategyScored.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "scored":
		return StrategyScored, nil
	case "round-robin", "round_robin", "roundrobin":
		return StrategyRoundRobin, nil
	}
	return StrategyScored, &model.ValidationError{Field: "preferences.strategy", Reason: fmt.Sprintf("unknown strategy %q", s)}
}
