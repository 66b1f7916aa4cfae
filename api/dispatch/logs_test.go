package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/lastmile/core/dispatch/logging"
)

func TestLogHandler_AuthAndFilters(t *testing.T) {
	store, err := logging.NewJSONLStore(filepath.Join(t.TempDir(), "logs.jsonl"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	for i, rec := range []logging.LogRecord{
		{ID: "a", Timestamp: base, Source: "optimize", Assignments: map[string]string{"o1": "v1"}},
		{ID: "b", Timestamp: base.Add(time.Hour), Source: "redispatch:tick", Assignments: map[string]string{"o2": "v2"}},
	} {
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	h := NewLogHandler(store, "tok")

	req := httptest.NewRequest("GET", "/api/assignments/logs?vehicle_id=v1", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out []logging.LogRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("unexpected records %#v", out)
	}

	req = httptest.NewRequest("GET", "/api/assignments/logs?source=redispatch:tick&start="+base.Add(30*time.Minute).Format(time.RFC3339), nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	out = nil
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "b" {
		t.Fatalf("unexpected records %#v", out)
	}

	req = httptest.NewRequest("GET", "/api/assignments/logs", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/api/assignments/logs?start=yesterday", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", rr.Code)
	}
}
