package locks

import "sync"

// Registry is a per-item mutual-exclusion set. Holding an item's lock
// grants exclusive rights to mutate it; Acquire never blocks, so callers
// that lose the race skip the item instead of queueing behind it.
type Registry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{held: make(map[string]struct{})}
}

// Acquire marks key as held and reports whether the caller won it. A key
// already held by anyone, including the caller, returns false.
func (r *Registry) Acquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[key]; ok {
		return false
	}
	r.held[key] = struct{}{}
	return true
}

// Release clears key. Releasing a key that is not held is a no-op.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, key)
}

// IsLocked reports whether key is currently held.
func (r *Registry) IsLocked(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[key]
	return ok
}

// Len returns the number of held keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}
