package logging

import (
	"context"
	"testing"
	"time"
)

func TestSQLiteStore_PersistQuery(t *testing.T) {
	store, err := NewSQLiteStore("file:assignlogs?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	now := time.Now()
	if err := store.Append(ctx, sampleRecord(now, "optimize", map[string]string{"O1": "v1"})); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, sampleRecord(now.Add(time.Second), "redispatch:tick", map[string]string{"O2": "v2"})); err != nil {
		t.Fatalf("append: %v", err)
	}
	out, err := store.Query(ctx, LogQuery{VehicleID: "v1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].Assignments["O1"] != "v1" {
		t.Fatalf("unexpected records %+v", out)
	}
	out, err = store.Query(ctx, LogQuery{Source: "redispatch:tick", Start: now})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
}
