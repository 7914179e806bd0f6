package hub

import "sync"

// Registry owns the set of live connections in insertion order.
type Registry struct {
	mu    sync.Mutex
	conns []*Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Add registers c and returns the new count.
func (r *Registry) Add(c *Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, c)
	return len(r.conns)
}

// RemoveDead drops every connection whose status is terminal and returns
// them with the count before and after removal.
func (r *Registry) RemoveDead() (removed []*Conn, previous, current int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = len(r.conns)
	kept := r.conns[:0]
	for _, c := range r.conns {
		if c.Status().Terminal() {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(r.conns); i++ {
		r.conns[i] = nil
	}
	r.conns = kept
	return removed, previous, len(r.conns)
}

// ForEachOpen calls fn for every open connection. fn runs outside the lock
// on a copy taken under it.
func (r *Registry) ForEachOpen(fn func(*Conn)) {
	for _, c := range r.Snapshot() {
		if c.Status() == StatusOpen {
			fn(c)
		}
	}
}

// Snapshot returns the registered connections in insertion order. The slice
// belongs to the caller.
func (r *Registry) Snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, len(r.conns))
	copy(out, r.conns)
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
