package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the work functions a backend can run, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]WorkFunc
}

// NewRegistry creates an empty work function registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]WorkFunc),
	}
}

// Register adds a work function under the given name, replacing any previous one.
func (r *Registry) Register(name string, fn WorkFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Resolve returns the work function registered under name.
func (r *Registry) Resolve(name string) (WorkFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunc, name)
	}
	return fn, nil
}

// List returns the registered function names sorted for a stable API response.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
