package remotedep

import (
	"sync"
	"time"

	"github.com/ptgrt/ptgrt/internal/taskclass"
	"github.com/ptgrt/ptgrt/pkg/rtlog"
)

// DefaultWindow is K, the number of ACTIVATE sends an Engine counts as in
// flight at once, across all peers (Engine.inFlight); the value matches
// the original engine's default persistent-request count. GET_DATA and
// PUT_DATA sends are not windowed, and no receive slots are pre-posted.
const DefaultWindow = 16

// Slot is one outstanding remote activation: a folded OR of every flow
// bit the current batch of successors on a peer rank has satisfied so
// far, plus the locals identifying which instance it targets. Successive
// Fold calls for the same (rank, class, locals) tuple OR their flow bits
// together instead of sending one ACTIVATE per successor.
type Slot struct {
	Rank        int32
	Class       *taskclass.Class
	Locals      []int32
	FlowBitmask uint32
	MaxPriority int32
	chunkKey    string // data-repo key this slot's GET_DATA will request
}

// key uniquely identifies a slot's destination for folding purposes.
type slotKey struct {
	rank    int32
	classID uint32
	locals  string
}

// Engine owns the per-peer window and the ACTIVATE/GET_DATA/PUT_DATA
// state machine. One Engine is shared by every worker in a context.
type Engine struct {
	SelfRank  int32
	Transport Transport
	Window    int
	Log       rtlog.Logger

	// ClassByID resolves a wire ClassID back to the local Class value —
	// classes are registered once at context Init, not sent on the wire.
	ClassByID func(id uint32) *taskclass.Class

	// OnRemoteReady is invoked on this rank when a remote ACTIVATE
	// satisfies a local instance's dependencies (i.e. this rank is the
	// destination of someone else's release). It plays the same role as
	// release.Engine's local scheduling path.
	OnRemoteReady func(class *taskclass.Class, locals []int32, flowBitmask uint32)

	// ProduceChunk supplies the bytes for a GET_DATA request this rank
	// receives, keyed by the data-repo key the PUT_DATA response will
	// carry.
	ProduceChunk func(key string) ([]byte, bool)

	// ConsumeChunk is called when this rank receives the PUT_DATA answer
	// to one of its own GET_DATA requests.
	ConsumeChunk func(key string, bytes []byte)

	// Pin, if set, runs on the dedicated comm goroutine before it enters
	// its loop, to lock the OS thread and apply core affinity the same
	// way a worker pins itself (SPEC_FULL §6's comm-thread binding flag).
	Pin func()

	mu      sync.Mutex
	pending map[slotKey]*Slot
	inFlight int // occupied window slots, across all peers

	progressCh chan progressReq
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

type progressReq struct {
	reply chan struct{}
}

// NewEngine constructs an Engine. Call Start to launch its comm loop.
func NewEngine(selfRank int32, transport Transport, window int, log rtlog.Logger) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{
		SelfRank:   selfRank,
		Transport:  transport,
		Window:     window,
		Log:        log,
		pending:    make(map[slotKey]*Slot),
		progressCh: make(chan progressReq, 1),
		stopCh:     make(chan struct{}),
	}
}

// Fold merges a successor activation into its pending slot and wakes the
// comm loop; the ACTIVATE itself is sent by the next drain pass (from the
// comm loop or from Progress) that finds room in the window.
func (e *Engine) Fold(rank int32, dep taskclass.Dep, locals []int32, priority int32) {
	e.mu.Lock()
	key := slotKey{rank: rank, classID: dep.DestClass.ID, locals: localsKey(locals)}
	slot, ok := e.pending[key]
	if !ok {
		slot = &Slot{Rank: rank, Class: dep.DestClass, Locals: locals}
		e.pending[key] = slot
	}
	slot.FlowBitmask |= uint32(1) << uint32(dep.FlowIndex)
	if priority > slot.MaxPriority {
		slot.MaxPriority = priority
	}
	e.mu.Unlock()

	e.requestProgress()
}

func localsKey(locals []int32) string {
	b := make([]byte, 0, 4*len(locals))
	for _, l := range locals {
		b = append(b, byte(l), byte(l>>8), byte(l>>16), byte(l>>24))
	}
	return string(b)
}

// requestProgress wakes the comm loop (if one is running via Start) to
// drain queued slots. Channel-based rather than condvar-based per
// spec.md §9's redesign note: a non-blocking send on a 1-buffered
// channel is strictly simpler to reason about than a mutex+condvar pair
// for a single-consumer wakeup.
func (e *Engine) requestProgress() {
	select {
	case e.progressCh <- progressReq{}:
	default:
	}
}

// Start launches the dedicated comm goroutine: it drains queued slots
// into ACTIVATE sends, serves inbound messages, and times out into a
// periodic probe when idle so queued work is never stuck behind a
// missed wakeup.
func (e *Engine) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if e.Pin != nil {
			e.Pin()
		}
		go func() { _ = e.Transport.Serve(e.handleInbound) }()

		ticker := time.NewTicker(500 * time.Microsecond)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case <-e.progressCh:
				e.drain()
			case <-ticker.C:
				e.drain()
			}
		}
	}()
}

// Stop signals the comm goroutine to exit and waits for it.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	_ = e.Transport.Close()
}

// Progress runs one non-blocking drain pass inline, for workers that
// poll the engine themselves rather than relying on a dedicated comm
// goroutine (spec.md §4.7's "progress is pluggable" requirement).
func (e *Engine) Progress() {
	e.drain()
}

func (e *Engine) drain() {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return
	}
	var toSend []*Slot
	for k, slot := range e.pending {
		if e.inFlight >= e.Window {
			break
		}
		toSend = append(toSend, slot)
		delete(e.pending, k)
		e.inFlight++
	}
	e.mu.Unlock()

	for _, slot := range toSend {
		body := ActivateBody{
			ClassID:     slot.Class.ID,
			Locals:      slot.Locals,
			FlowBitmask: slot.FlowBitmask,
			MaxPriority: slot.MaxPriority,
		}.marshal()
		if err := e.Transport.Send(slot.Rank, Header{Type: MsgActivate}, body); err != nil && e.Log != nil {
			e.Log.Error("ACTIVATE send to rank %d failed: %v", slot.Rank, err)
		}
	}
}

func (e *Engine) handleInbound(peer int32, h Header, body []byte) {
	switch h.Type {
	case MsgActivate:
		e.handleActivate(peer, body)
	case MsgGetData:
		e.handleGetData(peer, body)
	case MsgPutData:
		e.handlePutData(peer, h, body)
	}

	e.mu.Lock()
	if h.Type == MsgActivate && e.inFlight > 0 {
		e.inFlight--
	}
	e.mu.Unlock()
}

func (e *Engine) handleActivate(peer int32, body []byte) {
	ab, err := unmarshalActivateBody(body)
	if err != nil {
		if e.Log != nil {
			e.Log.Error("malformed ACTIVATE from rank %d: %v", peer, err)
		}
		return
	}
	class := e.ClassByID(ab.ClassID)
	if class == nil {
		if e.Log != nil {
			e.Log.Warn("ACTIVATE for unknown class id %d from rank %d", ab.ClassID, peer)
		}
		return
	}

	// GET_DATA phase: request the chunk(s) this instance needs before
	// declaring it ready locally. For a control-only edge (no data
	// payload) this phase is skipped and OnRemoteReady fires directly.
	if ab.FlowBitmask == 0 {
		if e.OnRemoteReady != nil {
			e.OnRemoteReady(class, ab.Locals, ab.FlowBitmask)
		}
		return
	}

	getBody := ActivateBody{ClassID: ab.ClassID, Locals: ab.Locals, FlowBitmask: ab.FlowBitmask}.marshal()
	if err := e.Transport.Send(peer, Header{Type: MsgGetData}, getBody); err != nil && e.Log != nil {
		e.Log.Error("GET_DATA send to rank %d failed: %v", peer, err)
	}
	// OnRemoteReady does not fire here: the instance is only schedulable
	// once its data chunk has actually arrived, via handlePutData below.
}

func (e *Engine) handleGetData(peer int32, body []byte) {
	gb, err := unmarshalActivateBody(body)
	if err != nil {
		return
	}
	class := e.ClassByID(gb.ClassID)
	if class == nil || e.ProduceChunk == nil {
		return
	}
	key := (&taskclass.Instance{Class: class, Locals: gb.Locals}).KeyString()
	bytes, ok := e.ProduceChunk(key)
	if !ok {
		if e.Log != nil {
			e.Log.Warn("GET_DATA miss for key %s requested by rank %d", key, peer)
		}
		return
	}
	putBody := PutDataBody{ClassID: gb.ClassID, Locals: gb.Locals, FlowBitmask: gb.FlowBitmask, Chunk: bytes}.marshal()
	if err := e.Transport.Send(peer, Header{Type: MsgPutData, Tag: gb.ClassID}, putBody); err != nil && e.Log != nil {
		e.Log.Error("PUT_DATA send to rank %d failed: %v", peer, err)
	}
}

// handlePutData is the sole point at which a remote activation with a
// data dependency becomes locally ready: the chunk it carries is the
// one the matching GET_DATA asked for, so only once this fires has the
// consumer's input actually arrived (spec.md §4.7 step 4, §5's
// happens-before guarantee).
func (e *Engine) handlePutData(peer int32, h Header, body []byte) {
	pb, err := unmarshalPutDataBody(body)
	if err != nil {
		if e.Log != nil {
			e.Log.Error("malformed PUT_DATA from rank %d: %v", peer, err)
		}
		return
	}
	class := e.ClassByID(pb.ClassID)
	if class == nil {
		if e.Log != nil {
			e.Log.Warn("PUT_DATA for unknown class id %d from rank %d", pb.ClassID, peer)
		}
		return
	}

	if e.ConsumeChunk != nil {
		key := (&taskclass.Instance{Class: class, Locals: pb.Locals}).KeyString()
		e.ConsumeChunk(key, pb.Chunk)
	}
	if e.OnRemoteReady != nil {
		e.OnRemoteReady(class, pb.Locals, pb.FlowBitmask)
	}
}
