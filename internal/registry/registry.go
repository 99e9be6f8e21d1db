// Package registry holds the process-wide timer store and the per-controller
// ownership index. Both are constructed once at startup and passed by
// reference into the engine; there are no package-level singletons.
package registry

import (
	"sync"

	"stagetimer-server/internal/timer"
)

// Registry maps timer identity to its entity. Mutations happen on the engine
// loop; the read lock exists for out-of-loop readers like the liveness probe.
type Registry struct {
	mu     sync.RWMutex
	timers map[string]*timer.Timer
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{timers: make(map[string]*timer.Timer)}
}

// Put stores a timer under its identity.
func (r *Registry) Put(t *timer.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[t.ID()] = t
}

// Lookup resolves a timer by identity.
func (r *Registry) Lookup(id string) (*timer.Timer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.timers[id]
	return t, ok
}

// Delete cancels the timer's tick source and then removes it, in that order,
// so no scheduled tick can fire against removed state.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[id]; ok {
		t.Close()
		delete(r.timers, id)
	}
}

// Len returns the number of registered timers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.timers)
}
