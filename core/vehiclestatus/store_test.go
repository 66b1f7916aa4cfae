package vehiclestatus

import "testing"

func TestMemoryStore_Filter(t *testing.T) {
	s := NewMemoryStore()
	s.Set(Status{VehicleID: "v1", PickupID: "p1", Available: true})
	s.Set(Status{VehicleID: "v2", PickupID: "p2", Available: true})
	out := s.List(Filter{PickupID: "p1"})
	if len(out) != 1 || out[0].VehicleID != "v1" {
		t.Fatalf("filter failed: %#v", out)
	}
}

func TestMemoryStore_FilterAvailable(t *testing.T) {
	s := NewMemoryStore()
	s.SetAvailability("v1", true)
	s.SetAvailability("v2", false)
	no := false
	out := s.List(Filter{Available: &no})
	if len(out) != 1 || out[0].VehicleID != "v2" {
		t.Fatalf("availability filter failed: %#v", out)
	}
	if out[0].CurrentStatus != StatusUnavailable {
		t.Fatalf("status = %s", out[0].CurrentStatus)
	}
}

func TestMemoryStore_RecordAssignment(t *testing.T) {
	s := NewMemoryStore()
	s.Set(Status{VehicleID: "v1", Available: true})
	s.RecordAssignment("v1", LastAssignment{RequestID: "r1", PickupID: "p1", Orders: []string{"o1"}})
	out := s.List(Filter{Status: StatusAssigned})
	if len(out) != 1 || out[0].PickupID != "p1" {
		t.Fatalf("status not updated: %#v", out)
	}
}

func TestMemoryStore_RecordAssignmentNew(t *testing.T) {
	s := NewMemoryStore()
	s.RecordAssignment("v3", LastAssignment{Orders: []string{"o1"}})
	st, ok := s.Get("v3")
	if !ok || !st.Available || st.CurrentStatus != StatusAssigned {
		t.Fatalf("auto create failed %#v", st)
	}
}

func TestMemoryStore_AvailabilityRestoresAssigned(t *testing.T) {
	s := NewMemoryStore()
	s.RecordAssignment("v1", LastAssignment{Orders: []string{"o1"}})
	s.SetAvailability("v1", false)
	s.SetAvailability("v1", true)
	st, _ := s.Get("v1")
	if st.CurrentStatus != StatusAssigned {
		t.Fatalf("status = %s", st.CurrentStatus)
	}
}
