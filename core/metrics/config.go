package metrics

import "github.com/kilianp07/lastmile/core/factory"

// Config lists the metrics sinks to build.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusPath is where the HTTP server exposes collectors.
	PrometheusPath string `json:"prometheus_path"`
}

// SetDefaults exposes metrics on /metrics.
func (c *Config) SetDefaults() {
	if c.PrometheusPath == "" {
		c.PrometheusPath = "/metrics"
	}
}
