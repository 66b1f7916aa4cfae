package scheduler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/lastmile/core/targets"
	"github.com/kilianp07/lastmile/infra/logger"
)

func TestNext(t *testing.T) {
	s, err := New(SchedulerConfig{ResetHour: 4, ResetMinute: 30}, targets.NewTracker(targets.NewMemoryStore(), logger.NopLogger{}), logger.NopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 10, 14, 1, 0, 0, 0, time.UTC), time.Date(2026, 10, 14, 4, 30, 0, 0, time.UTC)},
		{time.Date(2026, 10, 14, 4, 30, 0, 0, time.UTC), time.Date(2026, 10, 15, 4, 30, 0, 0, time.UTC)},
		{time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 4, 30, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		if got := s.Next(c.now); !got.Equal(c.want) {
			t.Fatalf("Next(%v) = %v, want %v", c.now, got, c.want)
		}
	}
}

func TestNextInZone(t *testing.T) {
	s, err := New(SchedulerConfig{Timezone: "Europe/Paris"}, targets.NewTracker(targets.NewMemoryStore(), logger.NopLogger{}), logger.NopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := s.Next(time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC))
	// midnight in Paris during summer time
	want := time.Date(2026, 10, 14, 22, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got.UTC(), want)
	}
}

func TestRunOnceResetsAndAppliesGoals(t *testing.T) {
	ctx := context.Background()
	store := targets.NewMemoryStore()
	tr := targets.NewTracker(store, logger.NopLogger{})
	if _, err := tr.RecordCompletion(ctx, "d1", 10); err != nil {
		t.Fatalf("record: %v", err)
	}
	cfg := SchedulerConfig{Goals: []DriverGoal{{DriverID: "d2", Deliveries: 20, Revenue: 300}}}
	s, err := New(cfg, tr, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	n, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 driver reset, got %d", n)
	}
	d1, err := store.Load(ctx, "d1")
	if err != nil || d1.CurrentDeliveries != 0 || d1.CurrentRevenue != 0 {
		t.Fatalf("d1 not reset: %+v %v", d1, err)
	}
	d2, err := store.Load(ctx, "d2")
	if err != nil || d2.TargetDeliveries != 20 || d2.TargetRevenue != 300 {
		t.Fatalf("d2 goals not applied: %+v %v", d2, err)
	}
}

func TestDecodeConfig(t *testing.T) {
	data := "timezone: Europe/Paris\nreset_hour: 5\ngoals:\n  - driver_id: d1\n    deliveries: 30\n    revenue: 450\n"
	cfg, err := DecodeConfig(bytes.NewBufferString(data), "yaml")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.ResetHour != 5 || len(cfg.Goals) != 1 || cfg.Goals[0].Revenue != 450 {
		t.Fatalf("bad cfg %#v", cfg)
	}
	if _, err := DecodeConfig(bytes.NewBufferString("reset_hour: 25\n"), "yaml"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reset.json")
	if err := os.WriteFile(path, []byte(`{"reset_hour":3,"goals":[{"driver_id":"d1","deliveries":10}]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ResetHour != 3 || cfg.Timezone != "UTC" {
		t.Fatalf("bad cfg %#v", cfg)
	}
	if _, err := LoadConfig(path + ".txt"); err == nil {
		t.Fatal("expected error for unknown extension")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(SchedulerConfig{}, targets.NewTracker(targets.NewMemoryStore(), logger.NopLogger{}), logger.NopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
