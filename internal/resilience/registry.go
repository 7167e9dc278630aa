package resilience

import (
	"sort"
	"sync"
)

// Registry owns the named breakers of one application.
// Lookups are idempotent per name: the first caller's settings win.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults Settings
	onChange StateChangeFunc
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStateChangeHook registers a function called on every breaker state transition.
func WithStateChangeHook(fn StateChangeFunc) RegistryOption {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry creates an empty registry. defaults are used by Breaker.
func NewRegistry(defaults Settings, opts ...RegistryOption) *Registry {
	r := &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults.withDefaults(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the breaker registered under name, creating it with settings if absent.
func (r *Registry) GetOrCreate(name string, settings Settings) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have created it between the locks.
	if cb, ok = r.breakers[name]; ok {
		return cb
	}

	cb = NewCircuitBreaker(name, settings)
	cb.onChange = r.onChange
	r.breakers[name] = cb
	return cb
}

// Breaker returns the breaker for name using the registry defaults when it does not exist yet.
func (r *Registry) Breaker(name string) *CircuitBreaker {
	return r.GetOrCreate(name, r.defaults)
}

// Get returns an existing breaker without creating one.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Snapshots returns the state of every registered breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
