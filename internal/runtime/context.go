// Package runtime implements the context lifecycle (C10): Init parses
// topology and binding options, builds VPs from the vp-map, spawns
// workers, and wires up the scheduler, dependency stores, and the
// remote-dep subsystem; Fini tears all of it back down.
//
// Grounded on the teacher's cmd/cli/cmd/root.go PersistentPreRunE/
// PersistentPostRunE lifecycle (logger setup before work, graceful
// teardown after) and cmd/cli/cmd/serve.go's startServeMode signal-driven
// shutdown.
package runtime

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ptgrt/ptgrt/internal/artifacts"
	"github.com/ptgrt/ptgrt/internal/datarepo"
	"github.com/ptgrt/ptgrt/internal/depstore"
	"github.com/ptgrt/ptgrt/internal/handle"
	"github.com/ptgrt/ptgrt/internal/pool"
	"github.com/ptgrt/ptgrt/internal/ready"
	"github.com/ptgrt/ptgrt/internal/release"
	"github.com/ptgrt/ptgrt/internal/remotedep"
	"github.com/ptgrt/ptgrt/internal/runtime/affinity"
	"github.com/ptgrt/ptgrt/internal/runtime/vpmap"
	"github.com/ptgrt/ptgrt/internal/taskclass"
	"github.com/ptgrt/ptgrt/internal/worker"
	"github.com/ptgrt/ptgrt/internal/xsync"
	"github.com/ptgrt/ptgrt/pkg/rtlog"
)

// tracer spans the Init..Fini context lifecycle (SPEC_FULL.md §10.3). A
// no-op unless pkg/rttelemetry.Init has installed a real TracerProvider.
var tracer = otel.Tracer("ptgrt")

// Options configure Init. An unparseable vp-map or binding string falls
// back to its default with a logged warning; an artifact store or
// remote-dep listener that cannot be set up makes Init return an error.
type Options struct {
	Cores         int
	Hyperthreads  int // logical threads per physical core; 0 or 1 means no multiplier
	VPMap         string
	Bind          string
	CommBind      string // core id (as a string, affinity grammar) the dedicated comm goroutine pins to
	Scheduler     string
	RemoteRank    int32
	RemoteWindow  int
	RemoteListen  string
	PeerAddrs     map[int32]string // rank -> "host:port", for remote-dep dial
	DedicatedComm bool
	Log           rtlog.Logger

	// Artifacts configures the completion-report sink (§10.2). nil
	// disables it — no handle ever has its report written.
	Artifacts *artifacts.Config
}

// DefaultOptions returns the flat/none/lfq defaults.
func DefaultOptions() Options {
	return Options{
		VPMap:         "flat",
		Bind:          "none",
		Scheduler:     "lfq",
		RemoteWindow:  remotedep.DefaultWindow,
		RemoteListen:  "127.0.0.1:0",
		DedicatedComm: true,
		Log:           rtlog.NewDefaultLogger(rtlog.LevelInfo, nil),
	}
}

// Context is one initialized runtime: a set of VPs, the handle registry,
// the class catalog, the data-repo, and the remote-dep engine.
type Context struct {
	opts Options
	log  rtlog.Logger

	VPs       []*worker.VP
	Handles   *handle.Registry
	Data      *datarepo.Repo
	Remote    *remotedep.Engine
	Artifacts artifacts.Store

	classesMu sync.RWMutex
	classes   map[uint32]*taskclass.Class

	storesMu sync.Mutex
	stores   map[uint32]*depstore.Store

	vpUsageMu sync.Mutex
	vpUsage   map[*handle.Handle]map[int]int64

	wg     sync.WaitGroup
	cancel context.CancelFunc

	lifecycleSpan trace.Span
}

// Init builds a Context per opts. Workers are spawned but idle (their
// ready rings are empty) until Submit or a remote ACTIVATE schedules the
// first instance.
func Init(opts Options) (*Context, error) {
	if opts.Log == nil {
		opts.Log = rtlog.NewDefaultLogger(rtlog.LevelInfo, nil)
	}
	cores := opts.Cores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	ht := opts.Hyperthreads
	if ht <= 0 {
		ht = 1
	}
	cores *= ht

	vpSpec, warn := vpmap.Parse(opts.VPMap, cores)
	if warn != "" {
		opts.Log.Warn("%s", warn)
	}

	totalWorkers := 0
	for _, vp := range vpSpec.VPs {
		totalWorkers += len(vp)
	}
	bind, bwarn := affinity.Parse(opts.Bind, totalWorkers)
	if bwarn != "" {
		opts.Log.Warn("%s", bwarn)
	}

	sched := schedulerByName(opts.Scheduler)

	var artifactStore artifacts.Store
	if opts.Artifacts != nil {
		s, aerr := artifacts.NewStore(opts.Artifacts)
		if aerr != nil {
			return nil, fmt.Errorf("runtime: init artifact store: %w", aerr)
		}
		artifactStore = s
	}

	lifecycleCtx, lifecycleSpan := tracer.Start(context.Background(), "ptgrt.context")

	c := &Context{
		opts:          opts,
		log:           opts.Log,
		Handles:       handle.New(),
		Data:          datarepo.New(),
		Artifacts:     artifactStore,
		classes:       make(map[uint32]*taskclass.Class),
		stores:        make(map[uint32]*depstore.Store),
		vpUsage:       make(map[*handle.Handle]map[int]int64),
		lifecycleSpan: lifecycleSpan,
	}

	// startBarrier releases every worker's RunLoop together, once every VP
	// in the process has been fully built, so no worker can observe a
	// sibling VP still under construction (spec.md §4.5's startup fence).
	startBarrier := xsync.NewBarrier(totalWorkers)

	c.VPs = make([]*worker.VP, len(vpSpec.VPs))
	for vi, coreList := range vpSpec.VPs {
		vp := worker.NewVP(vi, len(coreList), sched)
		sched.FlowInit(&vp.Ring)
		for ui, core := range coreList {
			instPool := pool.New[*taskclass.Instance](256, func() *taskclass.Instance {
				return &taskclass.Instance{}
			}, vp.Shared)
			vp.Units[ui] = &worker.Unit{
				VP:           vp,
				LocalID:      ui,
				Core:         core,
				Pool:         instPool,
				Log:          opts.Log,
				StartBarrier: startBarrier,
				Release: &release.Engine{
					LocalRank: opts.RemoteRank,
					Stores:    c.storeLookup,
					Pool:      instPool,
					Data:      c.Data,
				},
			}
		}
		c.VPs[vi] = vp
	}

	dial := func(rank int32) (net.Conn, error) {
		addr, ok := opts.PeerAddrs[rank]
		if !ok {
			return nil, fmt.Errorf("remotedep: no address configured for rank %d", rank)
		}
		return net.Dial("tcp", addr)
	}
	transport, err := remotedep.NewTCPTransport(opts.RemoteRank, opts.RemoteListen, dial)
	if err != nil {
		lifecycleSpan.End()
		return nil, fmt.Errorf("runtime: init remote-dep transport: %w", err)
	}
	c.Remote = remotedep.NewEngine(opts.RemoteRank, transport, opts.RemoteWindow, opts.Log)
	c.Remote.ClassByID = c.classByID
	c.Remote.ProduceChunk = func(key string) ([]byte, bool) {
		e, ok := c.Data.Lookup(key)
		if !ok {
			return nil, false
		}
		return e.Bytes, true
	}
	c.Remote.ConsumeChunk = func(key string, bytes []byte) {
		c.Data.LookupOrCreate(key, func() []byte { return bytes })
	}
	c.Remote.OnRemoteReady = c.onRemoteReady

	if opts.CommBind != "" {
		commBind, cwarn := affinity.Parse(opts.CommBind, 1)
		if cwarn != "" {
			opts.Log.Warn("%s", cwarn)
		}
		if core := commBind.CoreFor(0); core >= 0 {
			c.Remote.Pin = func() {
				runtime.LockOSThread()
				_ = affinity.Apply(core)
			}
		}
	}

	for _, vp := range c.VPs {
		for _, u := range vp.Units {
			u.Release.Remote = c.Remote
			u.OnInstanceComplete = c.onInstanceComplete
		}
	}

	ctx, cancel := context.WithCancel(lifecycleCtx)
	c.cancel = cancel

	for _, vp := range c.VPs {
		for _, u := range vp.Units {
			if !opts.DedicatedComm {
				u.RemoteTick = c.Remote.Progress
			}
		}
		vp.Start(ctx, bind, &c.wg)
	}

	if opts.DedicatedComm {
		c.Remote.Start()
	}

	if ht > 1 {
		c.log.Info("hyperthread multiplier %d applied to logical core count (no hardware topology prober wired, see SPEC_FULL §11)", ht)
	}
	c.log.Info("runtime initialized: %d VP(s), %d worker(s), vp-map=%s", len(c.VPs), totalWorkers, vpSpec.Raw)
	return c, nil
}

// RegisterClass adds a class to the context's catalog so remote
// ACTIVATE messages naming its id can be resolved back to the value, and
// pre-creates its dependency store.
func (c *Context) RegisterClass(class *taskclass.Class) {
	c.classesMu.Lock()
	c.classes[class.ID] = class
	c.classesMu.Unlock()
	c.storeLookup(class)
}

func (c *Context) classByID(id uint32) *taskclass.Class {
	c.classesMu.RLock()
	defer c.classesMu.RUnlock()
	return c.classes[id]
}

// storeLookup returns (creating lazily, once) the dependency store that
// owns class's readiness words.
func (c *Context) storeLookup(class *taskclass.Class) *depstore.Store {
	c.storesMu.Lock()
	defer c.storesMu.Unlock()
	if s, ok := c.stores[class.ID]; ok {
		return s
	}
	s := depstore.New(class.NumLocal, func(locals []int32) *depstore.Entry {
		goal := class.ComputeGoal(locals)
		if class.Encoding() == taskclass.EncodingMask {
			return depstore.NewMaskEntry(goal)
		}
		return depstore.NewCounterEntry(goal)
	})
	c.stores[class.ID] = s
	return s
}

// Submit enqueues a startup task instance — one whose dependencies are
// already satisfied by construction — directly onto its target VP's
// ready ring, short-circuiting the normal activation path per spec.md's
// startup-task rule. Use SubmitFor instead to track the instance against
// a completion handle (C9).
func (c *Context) Submit(class *taskclass.Class, locals []int32, priority int32) {
	c.SubmitFor(nil, class, locals, priority)
}

// SubmitFor is Submit, with the resulting instance (and every successor
// it eventually releases) tagged with h so the worker can report its
// completion against h. h may be nil, in which case this is exactly
// Submit.
func (c *Context) SubmitFor(h *handle.Handle, class *taskclass.Class, locals []int32, priority int32) {
	store := c.storeLookup(class)
	entry := store.Entry(locals)
	depstore.MarkStartupDone(entry, class.ComputeGoal(locals))

	inst := &taskclass.Instance{
		Class:    class,
		Locals:   append([]int32(nil), locals...),
		Priority: priority,
		Handle:   h,
	}
	c.vpForLocals(locals).Enqueue(inst)
}

// NewHandle registers a new completion handle (C9) tracking totalTasks
// instances, whose completion reports (SPEC_FULL.md §10.2) are written to
// c.Artifacts once every tracked instance has run, under the key
// "handle-<id>-report.json". If c.Artifacts is nil (Options.Artifacts
// unset), the handle still fires OnComplete bookkeeping but no report is
// written.
func (c *Context) NewHandle(totalTasks int64) *handle.Handle {
	h := &handle.Handle{UserData: time.Now()}
	h.Remaining.Store(totalTasks)
	h.OnComplete = c.onHandleComplete
	c.Handles.Register(h)
	return h
}

// onInstanceComplete is wired onto every worker.Unit as OnInstanceComplete:
// it tallies inst's VP against inst.Handle's per-VP usage and reports the
// completed task, firing the handle's completion report once its
// remaining count reaches zero.
func (c *Context) onInstanceComplete(vpID int, inst *taskclass.Instance) {
	if inst.Handle == nil {
		return
	}
	c.vpUsageMu.Lock()
	usage, ok := c.vpUsage[inst.Handle]
	if !ok {
		usage = make(map[int]int64)
		c.vpUsage[inst.Handle] = usage
	}
	usage[vpID]++
	c.vpUsageMu.Unlock()

	inst.Handle.Complete(1)
}

// onHandleComplete is h.OnComplete, fired exactly once by h.Complete when
// h's remaining task count reaches zero. It assembles and uploads the
// completion report, then drops the handle's accumulated VP-usage
// bookkeeping — the handle itself stays registered for Get(h.ID) lookups.
func (c *Context) onHandleComplete(h *handle.Handle) {
	c.vpUsageMu.Lock()
	usage := c.vpUsage[h]
	delete(c.vpUsage, h)
	c.vpUsageMu.Unlock()

	if c.Artifacts == nil {
		return
	}

	var total int64
	vpUtil := make([]artifacts.VPUtilization, 0, len(usage))
	for vpID, n := range usage {
		vpUtil = append(vpUtil, artifacts.VPUtilization{VPID: vpID, TasksRun: n})
		total += n
	}

	var wallMS int64
	if started, ok := h.UserData.(time.Time); ok {
		wallMS = time.Since(started).Milliseconds()
	}

	report := artifacts.CompletionReport{
		HandleID:      h.ID,
		TotalTasks:    total,
		WallTimeMS:    wallMS,
		VPUtilization: vpUtil,
	}
	key := fmt.Sprintf("handle-%d-report.json", h.ID)
	if err := artifacts.PutReport(context.Background(), c.Artifacts, key, report); err != nil {
		c.log.Error("artifacts: put completion report for handle %d: %v", h.ID, err)
	}
}

// onRemoteReady is the remote-dep engine's OnRemoteReady callback: a peer
// rank's ACTIVATE satisfied one or more input flows of a local instance.
// It replays the same activate-then-maybe-schedule sequence releaseOne
// runs for a local successor.
func (c *Context) onRemoteReady(class *taskclass.Class, locals []int32, flowBitmask uint32) {
	store := c.storeLookup(class)
	entry := store.Entry(locals)

	var isReady bool
	if class.Encoding() == taskclass.EncodingMask {
		isReady = entry.ActivateMask(depstore.MaskInDone | flowBitmask)
	} else {
		isReady = entry.ActivateCounter()
	}
	if !isReady {
		return
	}

	inst := &taskclass.Instance{Class: class, Locals: append([]int32(nil), locals...)}
	c.vpForLocals(locals).Enqueue(inst)
}

// vpForLocals picks the VP a given locals tuple is assigned to when no
// producing worker is already driving it (startup tasks, remote
// wakeups). A single VP skips the hash entirely.
func (c *Context) vpForLocals(locals []int32) *worker.VP {
	if len(c.VPs) == 1 {
		return c.VPs[0]
	}
	var h uint32 = 2166136261
	for _, l := range locals {
		h ^= uint32(l)
		h *= 16777619
	}
	return c.VPs[h%uint32(len(c.VPs))]
}

// Fini cancels every worker's context, stops all VPs and the remote-dep
// engine, and joins every worker goroutine.
func (c *Context) Fini() {
	c.cancel()
	for _, vp := range c.VPs {
		vp.Stop()
	}
	c.wg.Wait()
	if c.opts.DedicatedComm {
		c.Remote.Stop()
	} else {
		_ = c.Remote.Transport.Close()
	}
	c.lifecycleSpan.End()
	c.log.Info("runtime finalized")
}

func schedulerByName(name string) ready.Scheduler {
	switch name {
	case "", "lfq":
		return ready.LFQ{}
	default:
		return ready.LFQ{}
	}
}
