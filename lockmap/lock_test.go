package lockmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	assert := assert.New(t)
	lm := MkLockMap()
	assert.False(lm.Held(7))
	lm.Acquire(7)
	assert.True(lm.Held(7))
	assert.False(lm.Held(7+NSHARD), "same shard, different lock")
	lm.Acquire(7 + NSHARD)
	lm.Release(7)
	assert.False(lm.Held(7))
	lm.Release(7 + NSHARD)
}

func TestReleaseUnheld(t *testing.T) {
	lm := MkLockMap()
	assert.Panics(t, func() { lm.Release(3) })
}

func TestMutualExclusion(t *testing.T) {
	lm := MkLockMap()
	const nthread = 16
	const iters = 500
	counters := make([]int, 4)
	var wg sync.WaitGroup
	for i := 0; i < nthread; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				a := uint64(j % len(counters))
				lm.Acquire(a)
				counters[a]++
				lm.Release(a)
			}
		}()
	}
	wg.Wait()
	total := 0
	for _, c := range counters {
		total += c
	}
	assert.Equal(t, nthread*iters, total)
	for a := range counters {
		assert.False(t, lm.Held(uint64(a)))
	}
}
