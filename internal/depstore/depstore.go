// Package depstore implements the dependency store and readiness
// protocol (C4): a sparse N-level tree of 32-bit readiness words, one
// leaf per task instance, built lazily as successors are first touched.
//
// Two alternate leaf encodings are supported, matching the original
// engine's dague_dependency_t bit layout exactly:
//
//   - mask encoding: the low bits of the word are OR'd with one bit per
//     resolved input flow; bit 30 (IN_DONE) marks "all in-dependencies
//     satisfied"; bit 31 (TASK_DONE) marks "already released, must not
//     release twice." An instance is ready when the word, masked by
//     DependenciesGoal, equals DependenciesGoal.
//   - counter encoding: the word holds a negative remaining-activation
//     count; each activation increments it by one; ready when it reaches
//     zero. The first touch adds -(goal-1) in one atomic step instead
//     of installing -goal and then incrementing, which would pass
//     through an intermediate "ready" value of -1 at goal==1 and could
//     race a second activation landing on the same transition.
package depstore

import (
	"sync"
	"sync/atomic"
)

const (
	// MaskInDone and MaskTaskDone occupy the top two bits of the 32-bit
	// readiness word, matching the original engine's
	// DAGUE_DEPENDENCIES_IN_DONE / DAGUE_DEPENDENCIES_TASK_DONE bits.
	MaskInDone   uint32 = 1 << 30
	MaskTaskDone uint32 = 1 << 31
	maskBits     uint32 = MaskInDone | MaskTaskDone
)

// Entry is one leaf readiness word plus the encoding it uses.
type Entry struct {
	word     atomic.Uint32
	counter  bool
	goal     uint32
	touched  atomic.Bool
}

// NewMaskEntry creates a leaf using the mask encoding with the given
// DependenciesGoal bitmask (the OR of IN_DONE plus every input-flow bit
// that must be present before the instance is ready).
func NewMaskEntry(goal uint32) *Entry {
	return &Entry{counter: false, goal: goal}
}

// NewCounterEntry creates a leaf using the counter encoding; goal is the
// number of activations required before the instance is ready.
func NewCounterEntry(goal uint32) *Entry {
	return &Entry{counter: true, goal: goal}
}

// ActivateMask ORs delta into the readiness word (first touch installs
// delta directly via CAS) and reports whether this call transitioned the
// entry from not-ready to ready. Calling ActivateMask on a counter-mode
// entry is a programming error and panics.
func (e *Entry) ActivateMask(delta uint32) (ready bool) {
	if e.counter {
		panic("depstore: ActivateMask called on a counter-encoded entry")
	}
	for {
		old := e.word.Load()
		if old&MaskTaskDone != 0 {
			// Already released; a dependency firing twice on a released
			// instance is a caller invariant violation, not a store bug.
			return false
		}
		next := old | delta
		if e.word.CompareAndSwap(old, next) {
			wasReady := old&e.goal == e.goal
			nowReady := next&e.goal == e.goal
			return !wasReady && nowReady
		}
	}
}

// ActivateCounter decrements the remaining-activation count by one
// (adding -(goal-1) on the very first call) and reports whether this
// call brought the count to zero. Calling ActivateCounter on a
// mask-mode entry is a programming error and panics.
func (e *Entry) ActivateCounter() (ready bool) {
	if !e.counter {
		panic("depstore: ActivateCounter called on a mask-encoded entry")
	}
	if e.touched.CompareAndSwap(false, true) {
		// First touch: fold the post-first-activation value in with one
		// atomic add, never passing through the "goal installed, not yet
		// decremented" intermediate state. Adding rather than storing
		// keeps any activation that landed between the flag flip and
		// this add.
		initial := -int32(e.goal - 1)
		next := int32(e.word.Add(uint32(initial)))
		return next == 0
	}
	for {
		old := int32(e.word.Load())
		next := old + 1
		if e.word.CompareAndSwap(uint32(old), uint32(next)) {
			return next == 0
		}
	}
}

// MarkTaskDone sets the TASK_DONE bit, returning false if it was already
// set (a double-release, which callers treat as a fatal invariant
// violation under debug builds).
func (e *Entry) MarkTaskDone() (first bool) {
	for {
		old := e.word.Load()
		if old&MaskTaskDone != 0 {
			return false
		}
		if e.word.CompareAndSwap(old, old|MaskTaskDone) {
			return true
		}
	}
}

// Store is a sparse N-level tree of Entry leaves, one store per
// (handle, class) pair. Each level is keyed by one local (index
// parameter); the tree is built lazily, one level at a time, the first
// time a given locals prefix is touched.
type Store struct {
	mu       sync.Mutex
	root     *node
	levels   int
	newEntry func(locals []int32) *Entry
}

type node struct {
	children map[int32]*node
	entry    *Entry // non-nil only at a leaf (len(children) == 0 by construction)
}

// New creates a store for a class with the given number of levels
// (parameter count) and leaf-entry constructor.
func New(levels int, newEntry func(locals []int32) *Entry) *Store {
	return &Store{
		root:     &node{children: make(map[int32]*node)},
		levels:   levels,
		newEntry: newEntry,
	}
}

// Entry returns the leaf for locals, creating every intermediate level
// lazily and exactly once under the store's lock.
func (s *Store) Entry(locals []int32) *Entry {
	if len(locals) != s.levels {
		panic("depstore: locals length does not match store depth")
	}
	if s.levels == 0 {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.root.entry == nil {
			s.root.entry = s.newEntry(locals)
		}
		return s.root.entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.root
	for depth, l := range locals {
		child, ok := cur.children[l]
		if !ok {
			child = &node{}
			if depth < s.levels-1 {
				child.children = make(map[int32]*node)
			}
			cur.children[l] = child
		}
		cur = child
	}
	if cur.entry == nil {
		cur.entry = s.newEntry(locals)
	}
	return cur.entry
}

// EnumerateStartup walks the Cartesian product min/max/inc of the
// supplied ranges (already resolved to concrete int32 bounds per level
// by the caller) and calls visit for every locals tuple that passes
// affinity. It does not touch any leaf itself; callers install a startup
// instance's leaf with MarkStartupDone.
func EnumerateStartup(bounds [][3]int32, affinity func(locals []int32) bool, visit func(locals []int32)) {
	locals := make([]int32, len(bounds))
	var rec func(depth int)
	rec = func(depth int) {
		if depth == len(bounds) {
			if affinity == nil || affinity(locals) {
				cp := make([]int32, len(locals))
				copy(cp, locals)
				visit(cp)
			}
			return
		}
		min, max, inc := bounds[depth][0], bounds[depth][1], bounds[depth][2]
		if inc <= 0 {
			inc = 1
		}
		for v := min; v <= max; v += inc {
			locals[depth] = v
			rec(depth + 1)
		}
	}
	rec(0)
}

// MarkStartupDone installs the goal-satisfied pattern directly on a
// freshly created leaf for a startup instance, matching the original
// engine's DAGUE_DEPENDENCIES_STARTUP_TASK short-circuit so a startup
// instance never passes through the normal activation path.
func MarkStartupDone(e *Entry, goal uint32) {
	if e.counter {
		e.touched.Store(true)
		e.word.Store(0)
		return
	}
	e.word.Store(goal)
}
