// Package vehiclestatus keeps the last known state of every vehicle: driver
// availability and the most recent assignment it received.
package vehiclestatus

import (
	"sort"
	"sync"
	"time"
)

// Vehicle states reported in Status.CurrentStatus.
const (
	StatusIdle        = "idle"
	StatusAssigned    = "assigned"
	StatusUnavailable = "unavailable"
)

// LastAssignment mirrors the summary of an assignment decision.
type LastAssignment struct {
	RequestID string    `json:"request_id"`
	Source    string    `json:"source"`
	PickupID  string    `json:"pickup_id"`
	Orders    []string  `json:"orders"`
	Load      float64   `json:"load"`
	Timestamp time.Time `json:"timestamp"`
}

// Status captures the current known state of a vehicle.
type Status struct {
	VehicleID      string         `json:"vehicle_id"`
	DriverID       string         `json:"driver_id,omitempty"`
	PickupID       string         `json:"pickup_id,omitempty"`
	Available      bool           `json:"available"`
	CurrentStatus  string         `json:"current_status"`
	LastAssignment LastAssignment `json:"last_assignment"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type Filter struct {
	PickupID string
	Status   string
	// Available restricts the listing when non nil.
	Available *bool
}

type Store interface {
	Set(Status)
	Get(id string) (Status, bool)
	List(Filter) []Status
	RecordAssignment(id string, a LastAssignment)
	SetAvailability(id string, available bool)
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Status
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]Status{}, now: time.Now}
}

func (s *MemoryStore) Set(st Status) {
	s.mu.Lock()
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now()
	}
	s.data[st.VehicleID] = st
	s.mu.Unlock()
}

func (s *MemoryStore) Get(id string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[id]
	return st, ok
}

// entry returns the stored status of id or a fresh available one.
func (s *MemoryStore) entry(id string) Status {
	st, ok := s.data[id]
	if !ok {
		st = Status{VehicleID: id, Available: true, CurrentStatus: StatusIdle}
	}
	return st
}

func (s *MemoryStore) RecordAssignment(id string, a LastAssignment) {
	s.mu.Lock()
	st := s.entry(id)
	st.LastAssignment = a
	st.PickupID = a.PickupID
	if st.Available {
		st.CurrentStatus = StatusAssigned
	}
	st.UpdatedAt = s.now()
	s.data[id] = st
	s.mu.Unlock()
}

func (s *MemoryStore) SetAvailability(id string, available bool) {
	s.mu.Lock()
	st := s.entry(id)
	st.Available = available
	switch {
	case !available:
		st.CurrentStatus = StatusUnavailable
	case len(st.LastAssignment.Orders) > 0:
		st.CurrentStatus = StatusAssigned
	default:
		st.CurrentStatus = StatusIdle
	}
	st.UpdatedAt = s.now()
	s.data[id] = st
	s.mu.Unlock()
}

func (s *MemoryStore) List(f Filter) []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Status, 0, len(s.data))
	for _, st := range s.data {
		if f.PickupID != "" && st.PickupID != f.PickupID {
			continue
		}
		if f.Status != "" && st.CurrentStatus != f.Status {
			continue
		}
		if f.Available != nil && st.Available != *f.Available {
			continue
		}
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].VehicleID < res[j].VehicleID })
	return res
}
