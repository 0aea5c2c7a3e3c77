package datarepo

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupOrCreate_SingleCreationUnderConcurrency(t *testing.T) {
	r := New()
	var created int32Counter
	var wg sync.WaitGroup
	const n = 32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, wasCreated := r.LookupOrCreate("k", func() []byte {
				created.add(1)
				return []byte("v")
			})
			if wasCreated {
				// no-op; just exercising the path
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.load())
}

func TestRelease_RemovesAtZeroRefcount(t *testing.T) {
	r := New()
	e, _ := r.LookupOrCreate("k", func() []byte { return []byte("v") })
	r.Retain(e)

	assert.Equal(t, 1, r.Len())
	r.Release(e)
	assert.Equal(t, 1, r.Len(), "one ref remains")
	r.Release(e)
	assert.Equal(t, 0, r.Len())
}

type int32Counter struct {
	mu sync.Mutex
	v  int32
}

func (c *int32Counter) add(d int32) {
	c.mu.Lock()
	c.v += d
	c.mu.Unlock()
}

func (c *int32Counter) load() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}
