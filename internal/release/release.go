// Package release implements the release-deps engine (C7): after a task
// instance's hook completes, collect its out-deps in declared order and
// route each successor local, remote, or in-line. The successors are
// resolved concurrently (bounded by Engine.MaxFanout), so the order in
// which they reach a ready ring or the remote-dep engine is not the
// declared order.
//
// Grounded on the bounded-fan-out shape of the teacher's ParallelAnalyzer
// (internal/parser/hprof/parallel.go's errgroup.SetLimit pattern) for
// iterating successors concurrently with a cap, and on
// internal/scheduler/processor.go's multi-stage pipeline dispatch for the
// "resolve destination, then branch on locality" structure.
package release

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ptgrt/ptgrt/internal/datarepo"
	"github.com/ptgrt/ptgrt/internal/depstore"
	"github.com/ptgrt/ptgrt/internal/pool"
	"github.com/ptgrt/ptgrt/internal/ready"
	"github.com/ptgrt/ptgrt/internal/taskclass"
	"github.com/ptgrt/ptgrt/pkg/rtlog"
)

// RemoteSink receives successors whose destination rank is not
// LocalRank, folded per destination rank by the caller's remotedep
// subsystem (C8). One Fold call corresponds to one (rank, class)
// activation batch.
type RemoteSink interface {
	Fold(rank int32, dep taskclass.Dep, locals []int32, priority int32)
}

// Engine routes a completed instance's successors.
type Engine struct {
	LocalRank int32
	Stores    StoreLookup
	Pool      *pool.Pool[*taskclass.Instance]
	Data      *datarepo.Repo
	Remote    RemoteSink
	Log       rtlog.Logger

	// MaxFanout bounds concurrent successor resolution per Release call;
	// zero means unbounded (errgroup.SetLimit(-1)).
	MaxFanout int
}

// StoreLookup resolves the depstore.Store that owns a given class's
// readiness words for the handle the completing instance belongs to.
type StoreLookup func(class *taskclass.Class) *depstore.Store

// RingFor resolves which VP's ready.Ring a newly-ready local instance
// should be pushed onto, based on its locals (data affinity already
// having confirmed the instance is local).
type RingFor func(locals []int32) (*ready.Ring, ready.Scheduler)

// Release walks inst's successors. immediateRing collects
// FlagImmediateTask successors instead of recursing into Release for
// them directly — the caller drains immediateRing in a loop after
// Release returns, so chained immediate tasks never grow the call stack
// (spec.md §9's immediate-task-recursion open question).
func (e *Engine) Release(ctx context.Context, inst *taskclass.Instance, ringFor RingFor) (immediateRing []*taskclass.Instance, err error) {
	successors := collectOutDeps(inst.Class)
	if len(successors) == 0 {
		return nil, nil
	}
	if e.Log != nil {
		e.Log.Debug("releasing %s: %d successors", inst.KeyString(), len(successors))
	}

	var g errgroup.Group
	if e.MaxFanout > 0 {
		g.SetLimit(e.MaxFanout)
	}

	var mu sync.Mutex
	for _, succ := range successors {
		succ := succ
		g.Go(func() error {
			next, ferr := e.releaseOne(inst, succ.sourceFlow, succ.dep, ringFor)
			if ferr != nil {
				return ferr
			}
			if next != nil {
				mu.Lock()
				immediateRing = append(immediateRing, next)
				mu.Unlock()
			}
			return nil
		})
	}
	if werr := g.Wait(); werr != nil {
		return immediateRing, werr
	}
	return immediateRing, nil
}

// sourcedDep pairs an out-dep with the index of the flow it came from, so
// releaseOne can find the producer's own payload for that flow in
// inst.Data — Dep.FlowIndex itself names the *destination's* flow, not
// the source's (it is what feeds the destination's readiness-word bit).
type sourcedDep struct {
	sourceFlow int
	dep        taskclass.Dep
}

func collectOutDeps(c *taskclass.Class) []sourcedDep {
	var deps []sourcedDep
	for fi, f := range c.Flows {
		for _, d := range f.OutDeps {
			deps = append(deps, sourcedDep{sourceFlow: fi, dep: d})
		}
	}
	return deps
}

// releaseOne resolves one successor edge: evaluate the guard, compute
// destination locals, branch local vs. remote, and for a ready local
// successor either return it (for immediate-task deferral) or push it
// onto its VP's ready ring.
func (e *Engine) releaseOne(inst *taskclass.Instance, sourceFlow int, dep taskclass.Dep, ringFor RingFor) (*taskclass.Instance, error) {
	if dep.Guard != nil && dep.Guard.Eval(inst.Locals) == 0 {
		return nil, nil
	}

	destLocals := inst.Locals
	if dep.DestLocals != nil {
		destLocals = dep.DestLocals(inst.Locals)
	}

	destRank := e.LocalRank
	if dep.DestClass.DataAffinity != nil {
		destRank = dep.DestClass.DataAffinity(destLocals)
	}

	if destRank != e.LocalRank {
		if e.Remote != nil {
			e.Remote.Fold(destRank, dep, destLocals, inst.Priority)
		}
		return nil, nil
	}

	store := e.Stores(dep.DestClass)
	entry := store.Entry(destLocals)

	var isReady bool
	if dep.DestClass.Encoding() == taskclass.EncodingMask {
		delta := depstore.MaskInDone | (uint32(1) << uint32(dep.FlowIndex))
		isReady = entry.ActivateMask(delta)
	} else {
		isReady = entry.ActivateCounter()
	}
	if !isReady {
		return nil, nil
	}

	next := e.Pool.Get()
	next.Val.Class = dep.DestClass
	next.Val.Locals = append(next.Val.Locals[:0], destLocals...)
	next.Val.Priority = inst.Priority
	next.Val.Handle = inst.Handle

	if !dep.ControlOnly && e.Data != nil {
		e.attachData(inst, sourceFlow, dep, next.Val)
	}

	if dep.DestClass.Flags&taskclass.FlagImmediateTask != 0 {
		return next.Val, nil
	}

	ring, sched := ringFor(destLocals)
	sched.Schedule(ring, next.Val)
	return nil, nil
}

// attachData looks up (or, on first touch, creates) the data-repo entry
// for the flow that just satisfied next's dependency, retains it on
// next's behalf, and installs the resulting DataRef at the
// destination-side flow slot dep.FlowIndex — the back-reference and
// retain spec.md §4.6 requires for every released flow, local successors
// included. The entry is keyed by the producer's own identity plus the
// source flow index, since one producer instance can feed the same
// chunk to several successors who must all retain (not copy) it.
func (e *Engine) attachData(inst *taskclass.Instance, sourceFlow int, dep taskclass.Dep, next *taskclass.Instance) {
	key := fmt.Sprintf("%s#%d", inst.KeyString(), sourceFlow)
	// LookupOrCreate retains on every call, whether or not it creates —
	// exactly the "each successor retains its own reference" semantics
	// this fan-out needs.
	entry, _ := e.Data.LookupOrCreate(key, func() []byte {
		if sourceFlow < len(inst.Data) {
			return inst.Data[sourceFlow].Bytes
		}
		return nil
	})

	for len(next.Data) <= dep.FlowIndex {
		next.Data = append(next.Data, taskclass.DataRef{})
	}
	next.Data[dep.FlowIndex] = taskclass.DataRef{Key: entry.Key, Bytes: entry.Bytes}
}
