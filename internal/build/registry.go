package build

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrUnknownBuildType = errors.New("unknown build type")

// Registry lists the build configurations of the server.
type Registry interface {
	ActiveBuildTypes(ctx context.Context) ([]BuildType, error)
	// FindBuildType returns false when no configuration has the given id.
	FindBuildType(ctx context.Context, id string) (BuildType, bool, error)
}

// MemoryRegistry is a concurrency-safe in-process Registry.
// ActiveBuildTypes returns configurations in insertion order.
type MemoryRegistry struct {
	mu    sync.RWMutex
	order []string
	types map[string]BuildType
}

func NewMemoryRegistry(types ...BuildType) *MemoryRegistry {
	r := &MemoryRegistry{types: make(map[string]BuildType)}
	for _, bt := range types {
		_ = r.Add(bt)
	}
	return r
}

// Add inserts or replaces a build type. Replacing keeps the original position.
func (r *MemoryRegistry) Add(bt BuildType) error {
	bt.ID = strings.TrimSpace(bt.ID)
	if bt.ID == "" {
		return errors.New("build type id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[bt.ID]; !ok {
		r.order = append(r.order, bt.ID)
	}
	r.types[bt.ID] = bt
	return nil
}

func (r *MemoryRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[id]; !ok {
		return ErrUnknownBuildType
	}
	delete(r.types, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryRegistry) ActiveBuildTypes(_ context.Context) ([]BuildType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BuildType, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.types[id])
	}
	return out, nil
}

func (r *MemoryRegistry) FindBuildType(_ context.Context, id string) (BuildType, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bt, ok := r.types[id]
	return bt, ok, nil
}
