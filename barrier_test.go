package threadkit

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestBarrierInvalidThreshold(t *testing.T) {
	_, err := NewBarrier(0, true)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewBarrier(-3, false)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBarrierThresholdOne(t *testing.T) {
	b, err := NewBarrier(1, true)
	require.NoError(t, err)
	defer func() { _ = b.Destroy() }()

	require.NoError(t, b.Wait(), "a single party completes its own cohort")
	assert.Equal(t, uint64(1), b.Generation())
	require.NoError(t, b.Wait())
	assert.Equal(t, uint64(2), b.Generation())
}

func TestBarrierOneShotRelease(t *testing.T) {
	const parties = 3
	b, err := NewBarrier(parties, false)
	require.NoError(t, err)
	defer func() { _ = b.Destroy() }()

	var g errgroup.Group
	for i := 0; i < parties; i++ {
		g.Go(b.Wait)
	}
	require.NoError(t, g.Wait(), "all parties of the single cohort return success")

	err = b.Wait()
	require.ErrorIs(t, err, ErrInvalidArgument,
		"a released one-shot barrier rejects further waits")
}

func TestBarrierOneShotIgnoresReset(t *testing.T) {
	b, err := NewBarrier(1, false)
	require.NoError(t, err)
	defer func() { _ = b.Destroy() }()

	require.NoError(t, b.Wait())
	b.Reset()
	assert.Equal(t, uint64(1), b.Generation(), "reset must not touch a one-shot barrier")
}

// Three threads, five iterations each; the generation advances once per
// completed cohort, from 0 to 5.
func TestBarrierCyclicGenerations(t *testing.T) {
	const (
		parties    = 3
		iterations = 5
	)
	b, err := NewBarrier(parties, true)
	require.NoError(t, err)
	defer func() { _ = b.Destroy() }()

	assert.Equal(t, uint64(0), b.Generation())

	var work atomic.Int32
	var g errgroup.Group
	for i := 0; i < parties; i++ {
		g.Go(func() error {
			for j := 0; j < iterations; j++ {
				work.Add(1)
				if err := b.Wait(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(parties*iterations), work.Load())
	assert.Equal(t, uint64(iterations), b.Generation(),
		"one generation per completed cohort")
}

func TestBarrierWaitTimeout(t *testing.T) {
	b, err := NewBarrier(2, true)
	require.NoError(t, err)
	defer func() { _ = b.Destroy() }()

	err = b.WaitTimeout(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimedOut)

	// The timed-out arrival was withdrawn, so a fresh pair releases cleanly.
	var g errgroup.Group
	g.Go(b.Wait)
	g.Go(b.Wait)
	require.NoError(t, g.Wait(),
		"a withdrawn arrival must not count toward the next cohort")
	assert.Equal(t, uint64(1), b.Generation())
}

func TestBarrierResetReleasesWaiters(t *testing.T) {
	b, err := NewBarrier(3, true)
	require.NoError(t, err)
	defer func() { _ = b.Destroy() }()

	done := make(chan error, 1)
	go func() {
		done <- b.Wait()
	}()

	// Let the waiter park, then reset underneath it.
	time.Sleep(10 * time.Millisecond)
	b.Reset()

	require.NoError(t, <-done, "in-flight waiters observe the generation change and succeed")
}

func TestBarrierDestroyWakesWaiters(t *testing.T) {
	b, err := NewBarrier(2, true)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- b.Wait()
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Destroy())

	err = <-done
	require.ErrorIs(t, err, ErrInvalidArgument,
		"waiters of a destroyed barrier return an error")

	err = b.Wait()
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBarrierDestroyIdempotent(t *testing.T) {
	b, err := NewBarrier(1, true)
	require.NoError(t, err)
	require.NoError(t, b.Destroy())
	require.NoError(t, b.Destroy())
}

func TestBarrierCyclicFlag(t *testing.T) {
	b, err := NewBarrier(2, true)
	require.NoError(t, err)
	assert.True(t, b.Cyclic())
	require.NoError(t, b.Destroy())

	b, err = NewBarrier(2, false)
	require.NoError(t, err)
	assert.False(t, b.Cyclic())
	require.NoError(t, b.Destroy())
}
