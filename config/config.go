package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/lastmile/core/advisor"
	"github.com/kilianp07/lastmile/core/deadline"
	"github.com/kilianp07/lastmile/core/dispatch"
	"github.com/kilianp07/lastmile/core/eta"
	"github.com/kilianp07/lastmile/core/factory"
	"github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/redispatch"
	"github.com/kilianp07/lastmile/core/routing"
	"github.com/kilianp07/lastmile/core/scheduler"
	"github.com/kilianp07/lastmile/core/scoring"
	"github.com/kilianp07/lastmile/infra/mqtt"
)

type Config struct {
	Dispatch   dispatch.Config   `json:"dispatch"`
	Deadline   deadline.Config   `json:"deadline"`
	Scoring    scoring.Config    `json:"scoring"`
	Routing    routing.Config    `json:"routing"`
	ETA        eta.Config        `json:"eta"`
	Advisor    advisor.Config    `json:"advisor"`
	Redispatch redispatch.Config `json:"redispatch"`
	// Scheduler is read from SchedulerFile when set.
	Scheduler     scheduler.SchedulerConfig `json:"scheduler"`
	SchedulerFile string                    `json:"scheduler_file"`
	// Targets selects the driver target store backend.
	Targets factory.ModuleConfig `json:"targets"`
	// MQTT is disabled when no broker is configured.
	MQTT    mqtt.Config    `json:"mqtt"`
	Metrics metrics.Config `json:"metrics"`
	Logging LoggingConfig  `json:"logging"`
	Server  ServerConfig   `json:"server"`
}

// MQTTEnabled reports whether route notifications are sent.
func (c Config) MQTTEnabled() bool { return c.MQTT.Broker != "" }

// Load reads the file at path, applies K_ prefixed environment overrides
// and returns a validated configuration. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// K_ETA__SERVICE_MINUTES=4 sets eta.service_minutes
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if cfg.SchedulerFile != "" {
		sc, err := scheduler.LoadConfig(cfg.SchedulerFile)
		if err != nil {
			return nil, fmt.Errorf("scheduler file: %w", err)
		}
		cfg.Scheduler = sc
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Dispatch.SetDefaults()
	c.Deadline.SetDefaults()
	c.Scoring.SetDefaults()
	c.Routing.SetDefaults()
	c.ETA.SetDefaults()
	c.Advisor.SetDefaults()
	c.Redispatch.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Metrics.SetDefaults()
	c.Logging.SetDefaults()
	c.Server.SetDefaults()
	if c.MQTTEnabled() {
		c.MQTT.SetDefaults()
	}
}

// Validate checks every section and joins the failures.
func (c Config) Validate() error {
	errs := []error{
		section("dispatch", c.Dispatch.Validate()),
		section("deadline", c.Deadline.Validate()),
		section("scoring", c.Scoring.Validate()),
		section("routing", c.Routing.Validate()),
		section("eta", c.ETA.Validate()),
		section("advisor", c.Advisor.Validate()),
		section("redispatch", c.Redispatch.Validate()),
		section("scheduler", c.Scheduler.Validate()),
		section("logging", c.Logging.Validate()),
		section("server", c.Server.Validate()),
	}
	if c.MQTTEnabled() {
		errs = append(errs, section("mqtt", c.MQTT.Validate()))
	}
	return errors.Join(errs...)
}

func section(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
