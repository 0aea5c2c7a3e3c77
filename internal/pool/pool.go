// Package pool implements the runtime's memory pool (C2): a freelist of
// fixed-shape records per owner (a worker, or a VP for its shared
// overflow pool), with safe cross-owner free via a back-pointer stamped
// on every record handed out.
//
// Generalized from the slice/map-shaped sync.Pool wrappers the teacher
// codebase uses for scratch buffers: here the pooled value is an
// arbitrary record type, and — unlike a bare sync.Pool — a record freed
// by a goroutine other than the one that allocated it is routed back to
// its own origin pool rather than the freeing goroutine's, which is the
// exact guarantee the release-deps engine depends on (a task instance
// may be freed by whichever worker observes its last reference drop, not
// necessarily the worker that allocated it).
package pool

import "sync"

// Resettable records are zeroed before reuse so a freed instance never
// leaks fields from its previous life into its next allocation.
type Resettable interface {
	Reset()
}

// Handle is what Get returns: the pooled value plus the back-pointer to
// its owning Pool, so Put can route it home no matter who calls Put.
type Handle[T Resettable] struct {
	Val   T
	owner *Pool[T]
}

// Shared is a VP-wide backstop used only when a worker's own freelist is
// empty, so a burst on one worker does not allocate fresh records while
// idle capacity sits on a sibling worker's freelist.
type Shared[T Resettable] struct {
	mu   sync.Mutex
	free []*Handle[T]
}

func NewShared[T Resettable]() *Shared[T] {
	return &Shared[T]{}
}

// Pool is a per-owner freelist of *Handle[T].
type Pool[T Resettable] struct {
	mu       sync.Mutex
	free     []*Handle[T]
	new      func() T
	shared   *Shared[T]
	capacity int
}

// New creates a per-owner pool with the given local capacity (0 means
// unbounded) and constructor. shared may be nil, in which case
// exhaustion allocates a fresh record directly instead of overflowing to
// a VP-wide pool.
func New[T Resettable](capacity int, newFn func() T, shared *Shared[T]) *Pool[T] {
	return &Pool[T]{new: newFn, shared: shared, capacity: capacity}
}

// Get returns a handle, preferring the local freelist, then the shared
// overflow, then a fresh allocation.
func (p *Pool[T]) Get() *Handle[T] {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		h := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return h
	}
	p.mu.Unlock()

	if p.shared != nil {
		p.shared.mu.Lock()
		if n := len(p.shared.free); n > 0 {
			h := p.shared.free[n-1]
			p.shared.free = p.shared.free[:n-1]
			p.shared.mu.Unlock()
			h.owner = p
			return h
		}
		p.shared.mu.Unlock()
	}

	return &Handle[T]{Val: p.new(), owner: p}
}

// Put returns h to its owning pool regardless of which Pool's Put is
// called on it — h.owner, stamped at allocation time, decides where it
// lands, not the receiver.
func (p *Pool[T]) Put(h *Handle[T]) {
	h.Val.Reset()
	owner := h.owner
	if owner == nil {
		owner = p
	}

	owner.mu.Lock()
	if owner.capacity == 0 || len(owner.free) < owner.capacity {
		owner.free = append(owner.free, h)
		owner.mu.Unlock()
		return
	}
	owner.mu.Unlock()

	if owner.shared != nil {
		owner.shared.mu.Lock()
		owner.shared.free = append(owner.shared.free, h)
		owner.shared.mu.Unlock()
	}
}
