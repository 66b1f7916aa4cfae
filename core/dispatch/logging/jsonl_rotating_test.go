package logging

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingJSONLStore_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	big := map[string]string{}
	for i := 0; i < 200; i++ {
		big[strings.Repeat("o", 40)+string(rune('a'+i%26))+time.Duration(i).String()] = "V1"
	}
	rec := sampleRecord(time.Now(), "optimize", big)
	for i := 0; i < 150; i++ {
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	backups, _ := filepath.Glob(filepath.Join(dir, "log-*.jsonl"))
	if len(backups) == 0 {
		t.Fatalf("expected rotated files")
	}
	out, err := store.Query(context.Background(), LogQuery{VehicleID: "V1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected records across files")
	}
}

func TestRotatingJSONLStore_Query(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	now := time.Now()
	_ = store.Append(context.Background(), sampleRecord(now, "optimize", map[string]string{"O1": "V1"}))
	_ = store.Append(context.Background(), sampleRecord(now.Add(time.Second), "optimize", map[string]string{"O2": "V2"}))
	out, err := store.Query(context.Background(), LogQuery{OrderID: "O2"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
}

func TestJSONLStore_AppendQuery(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "plain.jsonl"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	now := time.Now()
	for i := 0; i < 3; i++ {
		_ = store.Append(context.Background(), sampleRecord(now.Add(time.Duration(i)*time.Minute), "optimize", map[string]string{"O1": "V1"}))
	}
	out, err := store.Query(context.Background(), LogQuery{Start: now.Add(30 * time.Second)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
}
