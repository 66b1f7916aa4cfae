package targets

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/kilianp07/lastmile/core/factory"
	"github.com/kilianp07/lastmile/core/model"
)

// ErrNotFound is returned by a Store when a driver has no saved state.
var ErrNotFound = errors.New("driver target not found")

// Store persists driver targets.
type Store interface {
	Load(ctx context.Context, driverID string) (model.DriverTarget, error)
	Save(ctx context.Context, t model.DriverTarget) error
}

// Lister is implemented by stores able to enumerate known drivers. ResetAll
// uses it to reset drivers that are not cached yet.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.DriverTarget
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]model.DriverTarget{}}
}

func (s *MemoryStore) Load(_ context.Context, id string) (model.DriverTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data[id]
	if !ok {
		return model.DriverTarget{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) Save(_ context.Context, t model.DriverTarget) error {
	s.mu.Lock()
	s.data[t.DriverID] = t
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var storeRegistry = factory.NewRegistry[Store]()

func init() {
	_ = RegisterStore("memory", func(map[string]any) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// RegisterStore adds a store factory identified by name.
func RegisterStore(name string, f factory.Factory[Store]) error {
	return storeRegistry.Register(name, f)
}

// NewStore creates a Store from configuration. An empty type selects the
// memory store.
func NewStore(cfg factory.ModuleConfig) (Store, error) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	return storeRegistry.Create(cfg)
}
