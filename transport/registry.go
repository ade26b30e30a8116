package transport

import "sync"

// Registry hands out process unique edge numbers and maps them back to
// live edges. Numbers are released when an edge first closes, so the
// table never keeps closed edges reachable.
type Registry struct {
	mu    sync.Mutex
	next  int
	edges map[int]Edge
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{edges: make(map[int]Edge)}
}

// DefaultRegistry is used by edges constructed without an explicit registry.
var DefaultRegistry = NewRegistry()

// Alloc assigns the next number to e.
func (r *Registry) Alloc(e Edge) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.edges[r.next] = e
	return r.next
}

// Release forgets num. Releasing an unknown number is a no-op.
func (r *Registry) Release(num int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.edges, num)
}

// Lookup returns the live edge with the given number.
func (r *Registry) Lookup(num int) (Edge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.edges[num]
	return e, ok
}

// Len returns the number of live edges.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.edges)
}

// EdgeByNumber looks up a live edge in DefaultRegistry.
func EdgeByNumber(num int) (Edge, bool) {
	return DefaultRegistry.Lookup(num)
}
