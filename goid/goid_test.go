package goid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDStable(t *testing.T) {
	a := ID()
	b := ID()
	require.NotZero(t, a)
	assert.Equal(t, a, b, "same goroutine should observe the same id")
}

func TestIDDistinctAcrossGoroutines(t *testing.T) {
	const n = 16

	var mu sync.Mutex
	seen := make(map[uint64]struct{}, n+1)
	seen[ID()] = struct{}{}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := ID()
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n+1, "every goroutine should have a distinct id")
}

func TestParseMalformed(t *testing.T) {
	assert.Zero(t, parse([]byte("gorout")))
	assert.Zero(t, parse([]byte("goroutine abc [running]:")))
	assert.EqualValues(t, 42, parse([]byte("goroutine 42 [running]:")))
}
