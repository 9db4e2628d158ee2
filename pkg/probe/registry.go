package probe

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a probe from configuration parameters. Well-known
// params are "target" (string, required by all current probe types),
// "count", and "timeout"; implementations document their own extras.
type Factory func(params map[string]any) (Probe, error)

// Registry maps probe type names to factories. The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given type name. Registering an
// empty name, a nil factory, or a name twice is an error.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("register probe: empty type name")
	}
	if factory == nil {
		return fmt.Errorf("register probe %q: nil factory", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("register probe %q: already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Create builds a probe of the given type.
func (r *Registry) Create(name string, params map[string]any) (Probe, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("create probe: unknown type %q", name)
	}
	p, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("create probe %q: %w", name, err)
	}
	return p, nil
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
