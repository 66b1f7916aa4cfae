package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// WeightTolerance is the accepted deviation of the weight sum from 1.
const WeightTolerance = 1e-6

// Weights are the coefficients of the five cost components.
type Weights struct {
	VehicleToPickup    float64 `json:"vehicle_to_pickup"`
	PickupToDelivery   float64 `json:"pickup_to_delivery"`
	ClusterDensity     float64 `json:"cluster_density"`
	LoadBalance        float64 `json:"load_balance"`
	RouteCompatibility float64 `json:"route_compatibility"`
}

// DefaultWeights returns 0.25/0.30/0.20/0.15/0.10.
func DefaultWeights() Weights {
	return Weights{
		VehicleToPickup:    0.25,
		PickupToDelivery:   0.30,
		ClusterDensity:     0.20,
		LoadBalance:        0.15,
		RouteCompatibility: 0.10,
	}
}

func (w Weights) values() [5]float64 {
	return [5]float64{w.VehicleToPickup, w.PickupToDelivery, w.ClusterDensity, w.LoadBalance, w.RouteCompatibility}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	var s float64
	for _, v := range w.values() {
		s += v
	}
	return s
}

// Validate rejects negative or non-finite weights and sums away from 1.
func (w Weights) Validate() error {
	for _, v := range w.values() {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("scoring: invalid weight %v", v)
		}
	}
	if s := w.Sum(); math.Abs(s-1) > WeightTolerance {
		return fmt.Errorf("scoring: weights sum to %.9f, want 1", s)
	}
	return nil
}

const (
	PresetDefault           = "default"
	PresetProximityFocused  = "proximity-focused"
	PresetLoadBalanced      = "load-balanced"
	PresetClusterOptimized  = "cluster-optimized"
	PresetRouteContinuation = "route-continuation"
)

var presets = map[string]Weights{
	PresetDefault:           DefaultWeights(),
	PresetProximityFocused:  {0.40, 0.35, 0.10, 0.10, 0.05},
	PresetLoadBalanced:      {0.20, 0.20, 0.15, 0.35, 0.10},
	PresetClusterOptimized:  {0.15, 0.25, 0.40, 0.10, 0.10},
	PresetRouteContinuation: {0.20, 0.20, 0.15, 0.10, 0.35},
}

func init() {
	for name, w := range presets {
		if err := w.Validate(); err != nil {
			panic(fmt.Sprintf("preset %s: %v", name, err))
		}
	}
}

// PresetNames lists the known presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for k := range presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Preset returns the named weight vector. An empty name selects the default.
func Preset(name string) (Weights, error) {
	if name == "" {
		name = PresetDefault
	}
	w, ok := presets[strings.ToLower(name)]
	if !ok {
		return Weights{}, fmt.Errorf("scoring: unknown preset %q", name)
	}
	return w, nil
}

// FromMap builds weights from a map keyed by component name. Both the JSON
// names (vehicleToPickup) and the config names (vehicle_to_pickup) are
// accepted. Missing components are zero and the result is validated.
func FromMap(m map[string]float64) (Weights, error) {
	var w Weights
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := m[k]
		switch strings.ToLower(strings.ReplaceAll(k, "_", "")) {
		case "vehicletopickup":
			w.VehicleToPickup = v
		case "pickuptodelivery":
			w.PickupToDelivery = v
		case "clusterdensity":
			w.ClusterDensity = v
		case "loadbalance":
			w.LoadBalance = v
		case "routecompatibility":
			w.RouteCompatibility = v
		default:
			return Weights{}, fmt.Errorf("scoring: unknown weight %q", k)
		}
	}
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}
