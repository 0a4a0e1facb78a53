package agent

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// RunnerFactory builds a Runner on demand.
type RunnerFactory func() (Runner, error)

// Registry maps runtime names ("local", "docker") to runner factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]RunnerFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]RunnerFactory)}
}

func (r *Registry) Register(name string, factory RunnerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the runner registered under name.
func (r *Registry) Create(name string) (Runner, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("agent.Registry.Create(%q): %w", name, ErrUnknownRuntime)
	}

	runner, err := factory()
	if err != nil {
		return nil, fmt.Errorf("agent.Registry.Create(%q): %w", name, err)
	}
	return runner, nil
}

// Available returns registered runtime names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
