// Package worker implements the execution unit and virtual process
// model (C6): OS-thread-pinned worker goroutines grouped into VPs that
// share a memory pool and a ready-list scheduler.
//
// Grounded on the teacher's WorkerPool[T,R].Execute fan-out shape
// (pkg/parallel/worker_pool.go) for the goroutine-per-unit loop, and on
// internal/scheduler.Scheduler's Start/Stop lifecycle (semaphore-gated
// start, sync.WaitGroup-joined stop) for VP-level bring-up and teardown.
package worker

import (
	"context"
	"runtime"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/ptgrt/ptgrt/internal/pool"
	"github.com/ptgrt/ptgrt/internal/ready"
	"github.com/ptgrt/ptgrt/internal/release"
	"github.com/ptgrt/ptgrt/internal/runtime/affinity"
	"github.com/ptgrt/ptgrt/internal/taskclass"
	"github.com/ptgrt/ptgrt/internal/xsync"
	"github.com/ptgrt/ptgrt/pkg/rtlog"
)

// tracer is the single otel.Tracer every hook invocation spans against
// (SPEC_FULL.md §10.3). It is a no-op unless pkg/rttelemetry.Init has
// installed a real TracerProvider, so it is always safe to call.
var tracer = otel.Tracer("ptgrt")

// VP is a virtual process: a group of Units sharing one Shared pool
// overflow and one ready.Ring. runtime.Init builds every VP, and every
// unit's pool, on its own goroutine before any unit starts; no worker
// goroutine takes part in construction. The units' StartBarrier then
// holds each unit until all of them are running.
type VP struct {
	ID       int
	Ring     ready.Ring
	Shared   *pool.Shared[*taskclass.Instance]
	Sched    ready.Scheduler
	Units    []*Unit
	mu       sync.Mutex // guards Ring; a VP's ring is touched by every worker in it
}

// Unit is one execution unit: a goroutine locked to an OS thread and
// (if a Binding was supplied) pinned to a specific core.
type Unit struct {
	VP       *VP
	LocalID  int
	Core     int
	Pool     *pool.Pool[*taskclass.Instance]
	Release  *release.Engine
	Log      rtlog.Logger
	RemoteTick func() // invoked once per loop iteration to drive remote-dep progress

	// OnInstanceComplete, if set, is invoked once per finished hook
	// invocation (the primary instance and every deferred immediate-task
	// successor alike), after its data-repo references have already been
	// released — giving a context a handle-tracking hook (C9) without
	// this package needing to import internal/handle.
	OnInstanceComplete func(vpID int, inst *taskclass.Instance)

	// StartBarrier, if set, is waited on once before RunLoop enters its
	// select loop, so every unit in a VP (and, when shared across VPs by
	// the caller, every worker in the process) observes a fully built VP
	// set before any of them runs a hook.
	StartBarrier *xsync.Barrier

	stopCh chan struct{}
	wg     *sync.WaitGroup
}

// NewVP creates a VP with n units sharing a single ready-list and pool
// overflow.
func NewVP(id int, n int, sched ready.Scheduler) *VP {
	vp := &VP{
		ID:     id,
		Shared: pool.NewShared[*taskclass.Instance](),
		Sched:  sched,
	}
	vp.Units = make([]*Unit, n)
	return vp
}

// RunLoop is a Unit's progress loop: Select -> run hook -> Release ->
// drain immediate successors -> RemoteTick, until stopCh is closed. The
// caller must have already called runtime.LockOSThread and, if pinning
// is requested, affinity.Apply on this goroutine.
func (u *Unit) RunLoop(ctx context.Context) {
	defer u.wg.Done()

	if u.StartBarrier != nil {
		u.StartBarrier.Wait()
	}

	for {
		select {
		case <-u.stopCh:
			return
		default:
		}

		u.VP.mu.Lock()
		inst := u.VP.Sched.Select(&u.VP.Ring)
		u.VP.mu.Unlock()

		if inst == nil {
			if u.RemoteTick != nil {
				u.RemoteTick()
			}
			runtime.Gosched()
			continue
		}

		u.runOne(ctx, inst)
	}
}

func (u *Unit) runOne(ctx context.Context, inst *taskclass.Instance) {
	u.runHook(ctx, inst)

	ringFor := func(locals []int32) (*ready.Ring, ready.Scheduler) {
		return &u.VP.Ring, u.VP.Sched
	}

	pending, err := u.Release.Release(ctx, inst, ringFor)
	if err != nil && u.Log != nil {
		u.Log.Error("release error for %s: %v", inst.KeyString(), err)
	}

	// Drain deferred immediate-task successors iteratively so a chain of
	// FlagImmediateTask classes never recurses on this goroutine's stack.
	for len(pending) > 0 {
		next := pending[0]
		pending = pending[1:]

		u.runHook(ctx, next)
		more, err := u.Release.Release(ctx, next, ringFor)
		if err != nil && u.Log != nil {
			u.Log.Error("release error for %s: %v", next.KeyString(), err)
		}
		pending = append(pending, more...)
	}

	if u.RemoteTick != nil {
		u.RemoteTick()
	}
}

// runHook spans, runs, and tears down after one instance's hook: the
// span covers exactly the hook body (SPEC_FULL.md §10.3), data-repo
// references are released once the hook returns, and the handle-tracking
// callback fires last so it observes the fully-released instance.
func (u *Unit) runHook(ctx context.Context, inst *taskclass.Instance) {
	hookCtx, span := tracer.Start(ctx, inst.Class.Name)
	err := inst.Class.Hook(hookCtx, inst)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	if err != nil && u.Log != nil {
		u.Log.Error("hook error in %s: %v", inst.KeyString(), err)
	}
	u.releaseInputData(inst)
	if u.OnInstanceComplete != nil {
		u.OnInstanceComplete(u.VP.ID, inst)
	}
}

// releaseInputData drops this instance's reference on every data-repo
// entry its Hook just consumed — the other half of release.Engine's
// retain-on-release-deps-fan-out (internal/release/release.go's
// attachData): Property 3 (a produced chunk's refcount reaches zero iff
// every successor has completed) only holds if every retain here is
// matched by a Release once the consuming Hook is done with the bytes.
func (u *Unit) releaseInputData(inst *taskclass.Instance) {
	if u.Release == nil || u.Release.Data == nil {
		return
	}
	for _, ref := range inst.Data {
		if ref.Key == "" {
			continue
		}
		if entry, ok := u.Release.Data.Lookup(ref.Key); ok {
			u.Release.Data.Release(entry)
		}
	}
}

// Start launches every unit in the VP as a goroutine, locking each to
// its own OS thread and applying bind if requested. wg.Done is called
// once per unit on exit.
func (vp *VP) Start(ctx context.Context, bind affinity.Binding, wg *sync.WaitGroup) {
	for i, u := range vp.Units {
		u := u
		idx := i
		u.stopCh = make(chan struct{})
		u.wg = wg
		wg.Add(1)
		go func() {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if core := bind.CoreFor(idx); core >= 0 {
				_ = affinity.Apply(core)
			}
			u.RunLoop(ctx)
		}()
	}
}

// Stop signals every unit in the VP to exit its loop after finishing
// its current instance.
func (vp *VP) Stop() {
	for _, u := range vp.Units {
		close(u.stopCh)
	}
}

// Enqueue schedules inst onto the VP's ready ring. Safe to call from any
// goroutine — unlike Select, which only this VP's own units call from
// inside RunLoop — so the context lifecycle (C10) can use it to seed
// startup tasks and to deliver instances a remote ACTIVATE just made
// ready on this rank.
func (vp *VP) Enqueue(inst *taskclass.Instance) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	vp.Sched.Schedule(&vp.Ring, inst)
}
