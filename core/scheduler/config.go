package scheduler

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/lastmile/core/targets"
)

// DriverGoal is the daily target set for one driver at each reset.
type DriverGoal struct {
	DriverID   string  `json:"driver_id" yaml:"driver_id"`
	Deliveries int     `json:"deliveries" yaml:"deliveries"`
	Revenue    float64 `json:"revenue" yaml:"revenue"`
}

// Targets converts the goal for the tracker.
func (g DriverGoal) Targets() targets.Targets {
	return targets.Targets{Deliveries: g.Deliveries, Revenue: g.Revenue}
}

// SchedulerConfig defines when progress is reset.
type SchedulerConfig struct {
	Timezone    string       `json:"timezone" yaml:"timezone"`
	ResetHour   int          `json:"reset_hour" yaml:"reset_hour"`
	ResetMinute int          `json:"reset_minute" yaml:"reset_minute"`
	Goals       []DriverGoal `json:"goals" yaml:"goals"`
}

// SetDefaults resets at midnight UTC.
func (c *SchedulerConfig) SetDefaults() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
}

// Validate checks the reset time, the zone and every goal.
func (c SchedulerConfig) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("scheduler: timezone: %w", err)
	}
	if c.ResetHour < 0 || c.ResetHour > 23 || c.ResetMinute < 0 || c.ResetMinute > 59 {
		return fmt.Errorf("scheduler: invalid reset time %02d:%02d", c.ResetHour, c.ResetMinute)
	}
	for i, g := range c.Goals {
		if g.DriverID == "" {
			return fmt.Errorf("scheduler: goal %d: driver_id missing", i)
		}
		if g.Deliveries < 0 || g.Revenue < 0 {
			return fmt.Errorf("scheduler: goal %s: targets must not be negative", g.DriverID)
		}
	}
	return nil
}

// LoadConfig loads SchedulerConfig from a JSON or YAML file.
func LoadConfig(path string) (SchedulerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return SchedulerConfig{}, err
	}
	defer f.Close()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return DecodeConfig(f, ext)
}

// DecodeConfig reads from r to decode a SchedulerConfig.
func DecodeConfig(r io.Reader, format string) (SchedulerConfig, error) {
	var cfg SchedulerConfig
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
			return cfg, err
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config format: %s", format)
	}
	cfg.SetDefaults()
	return cfg, cfg.Validate()
}
