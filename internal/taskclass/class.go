// Package taskclass defines the task-class ABI (spec.md §6): the closed
// description of a task class that the dependency store, release-deps
// engine, and worker hook invocation all operate against. ptgrt never
// parses or generates a task class — a class is built by an external
// translator and handed to the engine as a Go value.
package taskclass

import (
	"context"

	"github.com/ptgrt/ptgrt/internal/depstore"
	"github.com/ptgrt/ptgrt/internal/handle"
)

// EncodingKind selects the dependency store's readiness-word encoding
// for a class (spec.md §4.3).
type EncodingKind int

const (
	EncodingMask EncodingKind = iota
	EncodingCounter
)

// FlowKind is the data-movement direction of a flow.
type FlowKind int

const (
	FlowRead FlowKind = iota
	FlowWrite
	FlowReadWrite
	FlowControl
)

// Flag bits on a Class.
type Flag uint32

const (
	// FlagHasInDependencies marks a class with at least one dependency
	// that must be satisfied before the IN_DONE bit can itself be set.
	FlagHasInDependencies Flag = 1 << iota
	// FlagCtlGather marks a class whose in-degree is only known once a
	// control-gather count has itself been resolved at runtime.
	FlagCtlGather
	// FlagUseMaskEncoding selects EncodingMask over EncodingCounter.
	FlagUseMaskEncoding
	// FlagImmediateTask marks a class that must run in-line on the
	// producing worker rather than through the ready-list.
	FlagImmediateTask
)

// Expr is a closed three-case expression used for bounds, guards, and
// inline predicates over a task instance's locals. ptgrt only evaluates
// expressions; there is no expression parser in this repository — a
// translator builds Expr values directly.
type Expr interface {
	Eval(locals []int32) int32
}

// Const is a compile-time constant expression.
type Const int32

func (c Const) Eval([]int32) int32 { return int32(c) }

// BinOp is a binary operation over two sub-expressions.
type BinOp struct {
	Op          BinOpKind
	Left, Right Expr
}

type BinOpKind int

const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpMin
	OpMax
)

func (b BinOp) Eval(locals []int32) int32 {
	l, r := b.Left.Eval(locals), b.Right.Eval(locals)
	switch b.Op {
	case OpAdd:
		return l + r
	case OpSub:
		return l - r
	case OpMul:
		return l * r
	case OpDiv:
		if r == 0 {
			return 0
		}
		return l / r
	case OpMod:
		if r == 0 {
			return 0
		}
		return l % r
	case OpMin:
		if l < r {
			return l
		}
		return r
	case OpMax:
		if l > r {
			return l
		}
		return r
	default:
		return 0
	}
}

// Inline wraps an arbitrary Go closure as an Expr escape hatch, for
// predicates a translator could not express with Const/BinOp alone.
type Inline func(locals []int32) int32

func (f Inline) Eval(locals []int32) int32 { return f(locals) }

// Range describes a parameter's [Min, Max] bound (inclusive) with a
// step, each itself an Expr evaluated against the already-bound locals
// to its left.
type Range struct {
	Min, Max, Inc Expr
}

// Dep describes one symbolic dataflow edge out of (or into) a flow.
type Dep struct {
	FlowIndex   int
	DestClass   *Class
	DestFlow    int
	DestLocals  func(locals []int32) []int32 // maps this instance's locals to the destination's
	Guard       Expr                         // nil means unconditional
	ControlOnly bool

	// CtlGatherNB is the control-gather count expression (spec.md §4.3)
	// for an in-dep: how many activations of this edge a counter-encoded
	// class with FlagHasInDependencies or FlagCtlGather must see before
	// this edge's contribution to the instance's target is satisfied. nil
	// means the common case of exactly one activation.
	CtlGatherNB Expr
}

// Flow is one named input/output slot of a class.
type Flow struct {
	Name    string
	Kind    FlowKind
	InDeps  []Dep
	OutDeps []Dep
}

// Class is the complete, immutable description of a task class — the
// engine's only notion of "what kind of task this is."
type Class struct {
	ID       uint32
	Name     string
	NumLocal int // number of index parameters (P in spec.md's data model)
	Ranges   []Range
	Flows    []Flow
	Flags    Flag

	// DependenciesGoal is the bitmask (mask encoding) or activation count
	// (counter encoding) a readiness word must reach before the instance
	// is ready, per spec.md §4.3.
	DependenciesGoal uint32

	// Hook runs the class's body for one instance. A non-nil error is a
	// user-kind error and does not abort sibling instances.
	Hook func(ctx context.Context, inst *Instance) error

	// DataAffinity resolves which rank owns the data an instance
	// produces/consumes, used by the release-deps engine (C7) to decide
	// local vs. remote routing.
	DataAffinity func(locals []int32) int32
}

// Encoding returns the readiness-word encoding this class uses.
func (c *Class) Encoding() EncodingKind {
	if c.Flags&FlagUseMaskEncoding != 0 {
		return EncodingMask
	}
	return EncodingCounter
}

// ComputeGoal computes the dependency target for one instance of this
// class at locals, per spec.md §4.3. A class with neither
// FlagHasInDependencies nor FlagCtlGather always uses the static
// DependenciesGoal; the depstore.Store entry constructor calls this once,
// on first touch of that instance's leaf, so every instance still shares
// one computation path regardless of which case applies.
//
// For a counter-encoded class, the target is the sum, over every in-dep
// across every flow whose Guard does not evaluate to zero at locals, of
// that in-dep's CtlGatherNB expression (or 1 when CtlGatherNB is nil) —
// "evaluating each input flow's in-dep list... summing ctl_gather_nb
// expressions where present (else +1 per matched in-dep)".
//
// For a mask-encoded class, the goal is the static bitmask OR'd with the
// bit of every input flow whose only in-dep's Guard evaluates to zero at
// locals: a pure control input with no producer for this instance, which
// must be pre-satisfied since no activation will ever arrive to set it
// (check_IN_dependencies_with_mask).
func (c *Class) ComputeGoal(locals []int32) uint32 {
	if c.Flags&(FlagHasInDependencies|FlagCtlGather) == 0 {
		return c.DependenciesGoal
	}

	if c.Flags&FlagUseMaskEncoding != 0 {
		goal := c.DependenciesGoal
		for flowIdx, f := range c.Flows {
			for _, d := range f.InDeps {
				if d.Guard != nil && d.Guard.Eval(locals) == 0 {
					goal |= uint32(1) << uint32(flowIdx)
				}
			}
		}
		return goal
	}

	var total uint32
	for _, f := range c.Flows {
		for _, d := range f.InDeps {
			if d.Guard != nil && d.Guard.Eval(locals) == 0 {
				continue
			}
			if d.CtlGatherNB != nil {
				total += uint32(d.CtlGatherNB.Eval(locals))
			} else {
				total++
			}
		}
	}
	return total
}

// Instance is one materialized task instance: a class plus a concrete
// locals tuple, plus the per-instance state the dependency store and
// release-deps engine maintain while it is live.
type Instance struct {
	Class    *Class
	Locals   []int32
	Priority int32

	// Data holds the resolved input chunks, one slot per flow, populated
	// as dependencies resolve and consumed by Hook.
	Data []DataRef

	// link fields for ready.Ring intrusive membership (C5); zero value
	// means "not currently linked."
	RingPrev, RingNext *Instance

	// Handle, if non-nil, is the enqueuing PTG's completion handle (C9):
	// every instance descended from one Submit/SubmitFor call carries the
	// same *handle.Handle so the worker can report one task's completion
	// against it. nil means this instance is not tracked by any handle.
	Handle *handle.Handle

	deps *depstore.Entry
}

// DataRef is a reference-counted handle to a data-repo entry (C3),
// carried on an Instance from the moment its producing dependency
// resolves until Hook releases it.
type DataRef struct {
	Key   string
	Bytes []byte
}

func (i *Instance) Reset() {
	i.Class = nil
	i.Locals = i.Locals[:0]
	i.Priority = 0
	i.Data = i.Data[:0]
	i.RingPrev, i.RingNext = nil, nil
	i.Handle = nil
	i.deps = nil
}

// KeyString renders a stable string key for an instance, used by the
// data-repo (C3) and by logging.
func (i *Instance) KeyString() string {
	s := make([]byte, 0, 32)
	s = append(s, i.Class.Name...)
	s = append(s, '(')
	for idx, l := range i.Locals {
		if idx > 0 {
			s = append(s, ',')
		}
		s = appendInt(s, l)
	}
	s = append(s, ')')
	return string(s)
}

func appendInt(dst []byte, v int32) []byte {
	if v < 0 {
		dst = append(dst, '-')
		v = -v
	}
	if v == 0 {
		return append(dst, '0')
	}
	var buf [12]byte
	n := len(buf)
	for v > 0 {
		n--
		buf[n] = byte('0' + v%10)
		v /= 10
	}
	return append(dst, buf[n:]...)
}
