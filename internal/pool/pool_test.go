package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	N int
}

func (r *record) Reset() { r.N = 0 }

func TestPool_GetPutReuse(t *testing.T) {
	p := New[*record](4, func() *record { return &record{} }, nil)

	h := p.Get()
	h.Val.N = 7
	p.Put(h)

	h2 := p.Get()
	require.NotNil(t, h2)
	assert.Equal(t, 0, h2.Val.N, "Put must Reset before reuse")
}

func TestPool_CrossOwnerFreeRoutesHome(t *testing.T) {
	shared := NewShared[*record]()
	a := New[*record](1, func() *record { return &record{} }, shared)
	b := New[*record](1, func() *record { return &record{} }, shared)

	h := a.Get() // allocated fresh, owner == a

	// Freed via b, not a: must still land back on a's freelist, not b's.
	b.Put(h)

	assert.Len(t, a.free, 1)
	assert.Len(t, b.free, 0)
}

func TestPool_ConcurrentGetPut(t *testing.T) {
	shared := NewShared[*record]()
	p := New[*record](8, func() *record { return &record{} }, shared)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := p.Get()
			h.Val.N = 1
			p.Put(h)
		}()
	}
	wg.Wait()
}
