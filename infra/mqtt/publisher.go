package mqtt

import (
	"context"
	"fmt"
	"sync"

	coremqtt "github.com/kilianp07/lastmile/core/mqtt"
	"github.com/kilianp07/lastmile/core/model"
)

// Publisher mirrors the core mqtt.Publisher interface.
type Publisher = coremqtt.Publisher

// MockPublisher records routes and alerts in memory. It is used in tests
// and when no broker is configured.
type MockPublisher struct {
	Routes  map[string]model.Route
	Alerts  []model.AtRiskAlert
	FailIDs map[string]bool
	mu      sync.Mutex
	seq     int
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		Routes:  make(map[string]model.Route),
		FailIDs: make(map[string]bool),
	}
}

// PublishRoute records the latest route of each vehicle or fails for
// vehicles listed in FailIDs.
func (m *MockPublisher) PublishRoute(_ context.Context, _ string, r model.Route) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[r.VehicleID] {
		return "", fmt.Errorf("publish failed")
	}
	m.Routes[r.VehicleID] = r.Clone()
	m.seq++
	return fmt.Sprintf("msg-%s-%d", r.VehicleID, m.seq), nil
}

// PublishAlert records the alert.
func (m *MockPublisher) PublishAlert(_ context.Context, a model.AtRiskAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, a)
	return nil
}

// Route returns the last route published for vehicleID.
func (m *MockPublisher) Route(vehicleID string) (model.Route, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Routes[vehicleID]
	return r, ok
}
