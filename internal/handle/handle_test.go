package handle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterGet(t *testing.T) {
	r := New()
	h := &Handle{}
	id := r.Register(h)

	got := r.Get(id)
	require.NotNil(t, got)
	assert.Same(t, h, got)
}

func TestHandle_CompletionFiresExactlyOnce(t *testing.T) {
	h := &Handle{}
	h.Remaining.Store(3)

	var fireCount int
	var mu sync.Mutex
	h.OnComplete = func(*Handle) {
		mu.Lock()
		fireCount++
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Complete(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fireCount)
}

func TestRegistry_UnregisterClearsSlot(t *testing.T) {
	r := New()
	h := &Handle{}
	id := r.Register(h)
	r.Unregister(id)
	assert.Nil(t, r.Get(id))
}
