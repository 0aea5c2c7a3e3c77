package xsync

import "sync"

// Barrier is a reusable (cyclic) barrier: n goroutines call Wait, and all
// n are released together, after which the barrier resets for its next
// use. Context lifecycle (C10) uses one barrier, for worker startup;
// Fini does not wait on a barrier.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	waiting int
	gen     uint64
}

// NewBarrier creates a barrier that releases once n goroutines are
// waiting on it.
func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until n goroutines (across the barrier's lifetime, every
// nth call) have called Wait, then releases all of them simultaneously.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.waiting++
	if b.waiting == b.n {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// Reset changes the number of participants required for the next
// release. Only safe to call when no goroutine is currently blocked in
// Wait.
func (b *Barrier) Reset(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n = n
	b.waiting = 0
}
