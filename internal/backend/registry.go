package backend

import "sync"

// Registry tracks live adapter instances by id so out-of-band abort or
// delete requests can reach an in-flight generation from another request
// context. Lifecycle: insert when a generation starts, remove when it
// completes, aborts or is deleted.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Insert(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, id)
}

func (r *Registry) Lookup(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Abort cancels the adapter with the given id. Safe to call for an id that
// already finished; that is a no-op.
func (r *Registry) Abort(id string) bool {
	r.mu.RLock()
	a, ok := r.adapters[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	a.Abort()
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
