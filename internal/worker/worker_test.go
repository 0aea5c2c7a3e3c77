package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptgrt/ptgrt/internal/datarepo"
	"github.com/ptgrt/ptgrt/internal/depstore"
	"github.com/ptgrt/ptgrt/internal/pool"
	"github.com/ptgrt/ptgrt/internal/ready"
	"github.com/ptgrt/ptgrt/internal/release"
	"github.com/ptgrt/ptgrt/internal/runtime/affinity"
	"github.com/ptgrt/ptgrt/internal/taskclass"
)

func newTestVP(t *testing.T, stores map[uint32]*depstore.Store) (*VP, *pool.Pool[*taskclass.Instance]) {
	t.Helper()
	vp := NewVP(0, 1, ready.LFQ{})
	instPool := pool.New[*taskclass.Instance](8, func() *taskclass.Instance { return &taskclass.Instance{} }, vp.Shared)

	vp.Units[0] = &Unit{
		VP:      vp,
		LocalID: 0,
		Pool:    instPool,
		Release: &release.Engine{
			LocalRank: 0,
			Stores: func(c *taskclass.Class) *depstore.Store {
				return stores[c.ID]
			},
			Pool: instPool,
			Data: datarepo.New(),
		},
	}
	return vp, instPool
}

// TestVP_RunLoop_SingleClassNoSuccessors runs one instance of a class
// with no out-deps and confirms the hook fires exactly once and the VP
// can be stopped cleanly afterward.
func TestVP_RunLoop_SingleClassNoSuccessors(t *testing.T) {
	var ran int32
	var mu sync.Mutex

	class := &taskclass.Class{ID: 1, Name: "solo", NumLocal: 1}
	class.Hook = func(ctx context.Context, inst *taskclass.Instance) error {
		mu.Lock()
		ran++
		mu.Unlock()
		return nil
	}

	vp, _ := newTestVP(t, nil)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	vp.Start(ctx, affinity.Binding{}, &wg)

	vp.Enqueue(&taskclass.Instance{Class: class, Locals: []int32{0}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran == 1
	}, time.Second, time.Millisecond)

	vp.Stop()
	wg.Wait()
}

// TestVP_RunLoop_ChainedSuccessor verifies that completing a producer
// instance releases its out-dep successor onto the same VP's ring, and
// that the successor's hook runs without any external scheduling.
func TestVP_RunLoop_ChainedSuccessor(t *testing.T) {
	done := make(chan struct{})

	consumer := &taskclass.Class{
		ID:               2,
		Name:             "consume",
		NumLocal:         1,
		Flags:            taskclass.FlagUseMaskEncoding,
		DependenciesGoal: depstore.MaskInDone | 1,
		DataAffinity:     func(locals []int32) int32 { return 0 },
	}
	consumer.Hook = func(ctx context.Context, inst *taskclass.Instance) error {
		close(done)
		return nil
	}

	producer := &taskclass.Class{
		ID:       1,
		Name:     "produce",
		NumLocal: 1,
		Flows: []taskclass.Flow{
			{
				Name: "out",
				Kind: taskclass.FlowWrite,
				OutDeps: []taskclass.Dep{
					{FlowIndex: 0, DestClass: consumer, DestFlow: 0},
				},
			},
		},
	}
	producer.Hook = func(ctx context.Context, inst *taskclass.Instance) error { return nil }

	stores := map[uint32]*depstore.Store{
		2: depstore.New(1, func(locals []int32) *depstore.Entry {
			return depstore.NewMaskEntry(consumer.DependenciesGoal)
		}),
	}

	vp, _ := newTestVP(t, stores)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	vp.Start(ctx, affinity.Binding{}, &wg)

	vp.Enqueue(&taskclass.Instance{Class: producer, Locals: []int32{0}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer hook never ran")
	}

	vp.Stop()
	wg.Wait()
}

// TestVP_Stop_DrainsCurrentInstanceBeforeExiting confirms Stop does not
// cut off a unit mid-hook: the in-flight instance still completes.
func TestVP_Stop_DrainsCurrentInstanceBeforeExiting(t *testing.T) {
	started := make(chan struct{})
	finish := make(chan struct{})
	var completed int32

	class := &taskclass.Class{ID: 1, Name: "slow", NumLocal: 1}
	class.Hook = func(ctx context.Context, inst *taskclass.Instance) error {
		close(started)
		<-finish
		completed = 1
		return nil
	}

	vp, _ := newTestVP(t, nil)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	vp.Start(ctx, affinity.Binding{}, &wg)

	vp.Enqueue(&taskclass.Instance{Class: class, Locals: []int32{0}})

	<-started
	vp.Stop()
	close(finish)
	wg.Wait()

	assert.Equal(t, int32(1), completed)
}
