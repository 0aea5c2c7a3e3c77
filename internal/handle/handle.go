// Package handle implements the handle registry (C9): a process-wide,
// spinlock-protected registry mapping a handle id to its *Handle, with
// exactly-once completion-callback semantics.
//
// Grounded on the registry shape of the teacher's dispatch-style
// Communications type (map + mutex + atomic counters), generalized from
// a pub/sub channel router to an id-indexed table guarded by a spinlock
// rather than an RWMutex, since handle registry critical sections are
// O(1) (a slice append/index, never a fan-out send) and a spinlock beats
// a full mutex at that grain.
package handle

import (
	"sync/atomic"

	"github.com/ptgrt/ptgrt/internal/xsync"
)

// CompletionFunc is invoked exactly once, when a handle's remaining task
// count reaches zero.
type CompletionFunc func(h *Handle)

// Handle tracks one enqueued PTG's remaining task count and fires its
// completion callback when that count reaches zero.
type Handle struct {
	ID        uint32
	Remaining atomic.Int64
	OnComplete CompletionFunc
	fired     atomic.Bool

	// UserData is free for the owning context to stash bookkeeping on
	// (e.g. a start time for the completion report in internal/artifacts).
	UserData any
}

// Complete decrements Remaining by n and fires OnComplete exactly once,
// from whichever caller's decrement observes the transition to zero or
// below.
func (h *Handle) Complete(n int64) {
	if h.Remaining.Add(-n) <= 0 {
		if h.fired.CompareAndSwap(false, true) && h.OnComplete != nil {
			h.OnComplete(h)
		}
	}
}

// Registry is the process-wide id -> *Handle table.
type Registry struct {
	lock    xsync.Spinlock
	handles []*Handle
	nextID  atomic.Uint32
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register assigns the next handle id, stores h under it, and returns
// the id.
func (r *Registry) Register(h *Handle) uint32 {
	id := r.nextID.Add(1) - 1
	h.ID = id

	r.lock.Lock()
	defer r.lock.Unlock()
	for uint32(len(r.handles)) <= id {
		r.handles = append(r.handles, nil)
	}
	r.handles[id] = h
	return id
}

// Get returns the handle registered under id, or nil.
func (r *Registry) Get(id uint32) *Handle {
	r.lock.Lock()
	defer r.lock.Unlock()
	if int(id) >= len(r.handles) {
		return nil
	}
	return r.handles[id]
}

// Unregister removes id from the table. A handle must be fully complete
// before it is unregistered; the registry does not itself enforce this.
func (r *Registry) Unregister(id uint32) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if int(id) < len(r.handles) {
		r.handles[id] = nil
	}
}

// Len reports the number of id slots the registry has ever allocated
// (including unregistered ones), for diagnostics.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.handles)
}
