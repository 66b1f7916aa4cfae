package vehicles

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	vehiclestatus "github.com/kilianp07/lastmile/core/vehiclestatus"
)

func TestStatusHandler_Basic(t *testing.T) {
	store := vehiclestatus.NewMemoryStore()
	store.Set(vehiclestatus.Status{VehicleID: "v1", PickupID: "p1", Available: true, CurrentStatus: "idle"})
	h := NewStatusHandler(store)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/vehicles/status", nil)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out []vehiclestatus.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].VehicleID != "v1" {
		t.Fatalf("unexpected output %#v", out)
	}
}

func TestStatusHandler_Filter(t *testing.T) {
	store := vehiclestatus.NewMemoryStore()
	store.Set(vehiclestatus.Status{VehicleID: "v1", PickupID: "p1", Available: true, CurrentStatus: "assigned"})
	store.Set(vehiclestatus.Status{VehicleID: "v2", PickupID: "p2", Available: true, CurrentStatus: "assigned"})
	store.Set(vehiclestatus.Status{VehicleID: "v3", PickupID: "p1", Available: false, CurrentStatus: "unavailable"})
	h := NewStatusHandler(store)

	cases := []struct {
		query string
		want  []string
	}{
		{"?pickup_id=p1", []string{"v1", "v3"}},
		{"?pickup_id=p1&available=true", []string{"v1"}},
		{"?status=unavailable", []string{"v3"}},
		{"?status=idle", []string{}},
	}
	for _, c := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/vehicles/status"+c.query, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d", c.query, rr.Code)
		}
		var out []vehiclestatus.Status
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(out) != len(c.want) {
			t.Fatalf("%s: unexpected filter result %#v", c.query, out)
		}
		for i, id := range c.want {
			if out[i].VehicleID != id {
				t.Fatalf("%s: got %s want %s", c.query, out[i].VehicleID, id)
			}
		}
	}
}

func TestStatusHandler_Errors(t *testing.T) {
	h := NewStatusHandler(vehiclestatus.NewMemoryStore())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/vehicles/status?available=maybe", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/api/vehicles/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
