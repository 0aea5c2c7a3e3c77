package xsync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrier_ReleasesAllAtOnce(t *testing.T) {
	const n = 8
	b := NewBarrier(n)

	var before atomic.Int32
	var after atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			before.Add(1)
			b.Wait()
			after.Add(1)
		}()
	}

	wg.Wait()
	assert.EqualValues(t, n, before.Load())
	assert.EqualValues(t, n, after.Load())
}

func TestBarrier_ReusableAcrossGenerations(t *testing.T) {
	const n = 4
	b := NewBarrier(n)

	runRound := func() {
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				b.Wait()
			}()
		}
		wg.Wait()
	}

	done := make(chan struct{})
	go func() {
		runRound()
		runRound()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("barrier did not reset for second round")
	}
}

func TestBarrier_Reset_ChangesParticipantCount(t *testing.T) {
	b := NewBarrier(2)
	b.Reset(1)

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("single-participant barrier after Reset(1) never released")
	}
}

func TestSpinlock_MutualExclusion(t *testing.T) {
	var lock Spinlock
	var counter int
	var wg sync.WaitGroup

	const goroutines = 50
	const incrementsEach = 200

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < incrementsEach; j++ {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, goroutines*incrementsEach, counter)
}
