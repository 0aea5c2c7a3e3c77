// Package ready implements the ready-list and the pluggable scheduler
// capability set (C5): an intrusive priority-ordered ring of task
// instances, plus the Scheduler interface spec.md §4.4 requires every
// pluggable scheduler implementation to satisfy.
//
// Generalized from the teacher's array-backed RingBuffer
// (pkg/collections/pool.go) into an intrusive list: members link
// themselves via the RingPrev/RingNext fields spec.md requires a ready
// instance to carry, so the ring itself holds no backing array and has
// no fixed capacity.
package ready

import "github.com/ptgrt/ptgrt/internal/taskclass"

// Ring is a priority-ordered doubly-linked ring of *taskclass.Instance.
// Not safe for concurrent use without external synchronization — each
// VP owns exactly one Ring and only that VP's workers touch it, per
// spec.md's single-owner-per-VP ready-list design.
type Ring struct {
	head *taskclass.Instance
	size int
}

// Empty reports whether the ring has no members.
func (r *Ring) Empty() bool { return r.head == nil }

// Len reports the number of members.
func (r *Ring) Len() int { return r.size }

// PushSorted inserts inst in priority order (higher Priority first),
// breaking ties in FIFO order (an instance with equal priority to an
// existing member is inserted after it). O(n) worst case; acceptable at
// VP-local scale, per spec.md §4.4.
func (r *Ring) PushSorted(inst *taskclass.Instance) {
	inst.RingPrev, inst.RingNext = nil, nil
	r.size++

	if r.head == nil {
		inst.RingNext, inst.RingPrev = inst, inst
		r.head = inst
		return
	}

	cur := r.head
	for i := 0; i < r.size-1; i++ {
		if inst.Priority > cur.Priority {
			break
		}
		cur = cur.RingNext
		if cur == r.head {
			break
		}
	}

	// Insert inst immediately before cur.
	prev := cur.RingPrev
	prev.RingNext = inst
	inst.RingPrev = prev
	inst.RingNext = cur
	cur.RingPrev = inst

	if cur == r.head && inst.Priority > cur.Priority {
		r.head = inst
	}
}

// PopFront removes and returns the head (highest priority, earliest
// inserted among ties) member, or nil if the ring is empty.
func (r *Ring) PopFront() *taskclass.Instance {
	if r.head == nil {
		return nil
	}
	inst := r.head
	r.remove(inst)
	return inst
}

func (r *Ring) remove(inst *taskclass.Instance) {
	r.size--
	if r.size == 0 {
		r.head = nil
	} else {
		inst.RingPrev.RingNext = inst.RingNext
		inst.RingNext.RingPrev = inst.RingPrev
		if r.head == inst {
			r.head = inst.RingNext
		}
	}
	inst.RingPrev, inst.RingNext = nil, nil
}

// Scheduler is the pluggable capability set spec.md §4.4 names:
// select picks the next instance to run, schedule enqueues newly-ready
// instances, and flow_init performs any one-time per-VP setup the
// scheduler needs before the first Select.
type Scheduler interface {
	Select(ring *Ring) *taskclass.Instance
	Schedule(ring *Ring, inst *taskclass.Instance)
	FlowInit(ring *Ring)
}

// LFQ is the reference scheduler: local FIFO-within-priority selection,
// nothing else. It is the only scheduler this repository ships — the
// rest of the pluggable set (global-dequeue, local-hierarchical-queue,
// absolute-priority, priority-based, local-task-queue variants) is an
// external concern per spec.md's Non-goals.
type LFQ struct{}

func (LFQ) Select(ring *Ring) *taskclass.Instance { return ring.PopFront() }

func (LFQ) Schedule(ring *Ring, inst *taskclass.Instance) { ring.PushSorted(inst) }

func (LFQ) FlowInit(*Ring) {}
