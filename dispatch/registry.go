package dispatch

import "sync"

// HandlerRegistry tracks the busy/idle state of a fixed set of handlers.
// It is injected into the supervisor rather than shared globally; the
// idle-to-busy transition is an atomic check-and-set under one mutex, so two
// work items can never hold the same handler at once.
type HandlerRegistry struct {
	mu   sync.Mutex
	busy map[string]bool
}

// NewHandlerRegistry creates a registry for the given handler names, all idle.
func NewHandlerRegistry(names ...string) *HandlerRegistry {
	busy := make(map[string]bool, len(names))
	for _, n := range names {
		busy[n] = false
	}
	return &HandlerRegistry{busy: busy}
}

// Known reports whether name is a registered handler.
func (r *HandlerRegistry) Known(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.busy[name]
	return ok
}

// TryAcquire atomically marks an idle handler busy. It returns false when the
// handler is unknown or already busy.
func (r *HandlerRegistry) TryAcquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.busy[name]
	if !ok || b {
		return false
	}
	r.busy[name] = true
	return true
}

// Release marks a handler idle again. Releasing an unknown or idle handler is
// a no-op.
func (r *HandlerRegistry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.busy[name]; ok {
		r.busy[name] = false
	}
}

// Snapshot returns a copy of the current busy/idle states.
func (r *HandlerRegistry) Snapshot() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.busy))
	for n, b := range r.busy {
		out[n] = b
	}
	return out
}

// Names returns the registered handler names.
func (r *HandlerRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.busy))
	for n := range r.busy {
		names = append(names, n)
	}
	return names
}
