package config

import (
	"os"
	"path/filepath"
	"testing"
)

//nolint:gocyclo
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `mqtt:
  broker: "tcp://localhost:1883"
  client_id: "dispatch"
  route_topic: "fleet/%s/route"
dispatch:
  strategy: "round-robin"
deadline:
  timezone: "Europe/Paris"
  cutoff_hour: 21
scoring:
  preset: "load-balanced"
routing:
  service:
    type: "ors"
    conf:
      api_key: "abc"
redispatch:
  tick_seconds: 30
targets:
  type: "sqlite"
  conf:
    path: "targets.db"
metrics:
  sinks:
    - type: "nop"
logging:
  backend: "sqlite"
  path: "logs.db"
server:
  addr: ":9000"
  logs_token: "s3cret"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"route_topic", cfg.MQTT.RouteTopic, "fleet/%s/route"},
		{"alert_topic default", cfg.MQTT.AlertTopic, "dispatch/alerts"},
		{"strategy", cfg.Dispatch.Strategy, "round-robin"},
		{"timezone", cfg.Deadline.Timezone, "Europe/Paris"},
		{"cutoff_hour", cfg.Deadline.CutoffHour, 21},
		{"open_hour default", cfg.Deadline.OpenHour, 8},
		{"preset", cfg.Scoring.Preset, "load-balanced"},
		{"routing service", cfg.Routing.Service.Type, "ors"},
		{"routing key", cfg.Routing.Service.Conf["api_key"], "abc"},
		{"fallback speed default", cfg.Routing.FallbackSpeedKmh, 40.0},
		{"service minutes default", cfg.ETA.ServiceMinutes, 5.0},
		{"tick", cfg.Redispatch.TickSeconds, 30},
		{"budget default", cfg.Redispatch.BudgetMs, 500},
		{"targets", cfg.Targets.Type, "sqlite"},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"prometheus path", cfg.Metrics.PrometheusPath, "/metrics"},
		{"log backend", cfg.Logging.Backend, "sqlite"},
		{"addr", cfg.Server.Addr, ":9000"},
		{"token", cfg.Server.LogsToken, "s3cret"},
		{"scheduler tz default", cfg.Scheduler.Timezone, "UTC"},
		{"mqtt enabled", cfg.MQTTEnabled(), true},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: got %v want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"eta":{"service_minutes":5},"redispatch":{"budget_ms":200}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("K_ETA__SERVICE_MINUTES", "7.5")
	t.Setenv("K_SERVER__ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.ETA.ServiceMinutes != 7.5 {
		t.Fatalf("expected env override, got %v", cfg.ETA.ServiceMinutes)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("expected :7070, got %s", cfg.Server.Addr)
	}
	if cfg.Redispatch.BudgetMs != 200 {
		t.Fatalf("file value lost: %d", cfg.Redispatch.BudgetMs)
	}
	if cfg.MQTTEnabled() {
		t.Fatalf("mqtt should be disabled without broker")
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Dispatch.Strategy != "scored" || cfg.Logging.Backend != "jsonl" || cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadSchedulerFile(t *testing.T) {
	dir := t.TempDir()
	sched := filepath.Join(dir, "schedule.yaml")
	if err := os.WriteFile(sched, []byte("timezone: Europe/Paris\nreset_hour: 3\ngoals:\n  - driver_id: d1\n    deliveries: 25\n"), 0o644); err != nil {
		t.Fatalf("write schedule: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("scheduler_file: "+sched+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Scheduler.ResetHour != 3 || len(cfg.Scheduler.Goals) != 1 || cfg.Scheduler.Goals[0].Deliveries != 25 {
		t.Fatalf("scheduler not loaded: %+v", cfg.Scheduler)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"strategy": "dispatch:\n  strategy: fastest\n",
		"logging":  "logging:\n  backend: mongo\n",
		"weights":  "scoring:\n  custom_weights:\n    vehicleToPickup: 0.9\n",
		"mqtt":     "mqtt:\n  broker: tcp://b:1883\n  route_topic: fixed\n",
		"format":   "",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			ext := ".yaml"
			if name == "format" {
				ext = ".toml"
			}
			path := filepath.Join(t.TempDir(), "config"+ext)
			if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
