package isolate

import (
	"sort"
	"sync"

	"github.com/fluxorio/isolate/pkg/core"
)

// Registry maps names to entries so triggers can reference worker code by
// name instead of by function value.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// DefaultRegistry is used by the package-level Register and Lookup.
var DefaultRegistry = NewRegistry()

// Register adds e under name. Names are unique.
func (r *Registry) Register(name string, e Entry) error {
	if name == "" {
		return core.NewError(core.CodeSpawnFailure, "entry name is empty")
	}
	if e.IsZero() {
		return core.NewError(core.CodeSpawnFailure, "entry %q is not initialised", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return core.NewError(core.CodeSpawnFailure, "entry %q already registered", name)
	}
	r.entries[name] = e
	return nil
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, core.NewError(core.CodeNotFound, "no entry named %q", name)
	}
	return e, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds e to DefaultRegistry.
func Register(name string, e Entry) error {
	return DefaultRegistry.Register(name, e)
}

// Lookup reads from DefaultRegistry.
func Lookup(name string) (Entry, error) {
	return DefaultRegistry.Lookup(name)
}
