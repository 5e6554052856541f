package threadkit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMutexLockUnlock(t *testing.T) {
	m := NewMutex()
	defer m.Dispose()

	require.NoError(t, m.Lock())
	assert.True(t, m.IsLocked(), "locked hint should be set while held")
	require.NoError(t, m.Unlock())
	assert.False(t, m.IsLocked(), "locked hint should clear on unlock")
}

func TestMutexUninitialized(t *testing.T) {
	var m Mutex
	err := m.Lock()
	require.ErrorIs(t, err, ErrInvalidArgument, "zero-value mutex must be initialized first")

	_, err = m.TryLock()
	require.ErrorIs(t, err, ErrInvalidArgument)

	err = m.Unlock()
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMutexInitDisposeInit(t *testing.T) {
	var m Mutex
	require.NoError(t, m.Init())
	require.NoError(t, m.Lock())
	require.NoError(t, m.Unlock())

	m.Dispose()
	require.ErrorIs(t, m.Lock(), ErrInvalidArgument, "disposed mutex rejects operations")

	require.NoError(t, m.Init(), "a disposed handle is re-initializable")
	require.NoError(t, m.Lock())
	require.NoError(t, m.Unlock())
	m.Dispose()
}

func TestMutexDoubleDispose(t *testing.T) {
	m := NewMutex()
	m.Dispose()
	m.Dispose() // second dispose is a no-op
}

func TestMutexSelfDeadlock(t *testing.T) {
	m := NewMutex()
	defer m.Dispose()

	require.NoError(t, m.Lock())
	err := m.Lock()
	require.ErrorIs(t, err, ErrDeadlock, "plain mutex must detect relock by the owner")
	require.NoError(t, m.Unlock())
}

func TestMutexRecursive(t *testing.T) {
	m := NewMutex(WithRecursive())
	defer m.Dispose()

	require.NoError(t, m.Lock())
	require.NoError(t, m.Lock(), "owner may relock a recursive mutex")
	require.NoError(t, m.Unlock())
	assert.True(t, m.IsLocked(), "still held until unlocks balance locks")
	require.NoError(t, m.Unlock())
	assert.False(t, m.IsLocked())
}

func TestMutexTryLock(t *testing.T) {
	m := NewMutex()
	defer m.Dispose()

	acquired, err := m.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)

	done := make(chan struct{})
	go func() {
		defer close(done)
		busy, err := m.TryLock()
		assert.NoError(t, err)
		assert.False(t, busy, "TryLock on a held mutex reports busy")
	}()
	<-done

	require.NoError(t, m.Unlock())
}

func TestMutexUnlockNotOwner(t *testing.T) {
	m := NewMutex()
	defer m.Dispose()

	require.NoError(t, m.Lock())

	done := make(chan error, 1)
	go func() {
		done <- m.Unlock()
	}()
	err := <-done
	require.ErrorIs(t, err, ErrNotPermitted, "only the owner may unlock")

	require.NoError(t, m.Unlock())
}

func TestMutexLockTimeout(t *testing.T) {
	m := NewMutex()
	defer m.Dispose()

	require.NoError(t, m.Lock())

	done := make(chan error, 1)
	go func() {
		done <- m.LockTimeout(20 * time.Millisecond)
	}()
	err := <-done
	require.ErrorIs(t, err, ErrTimedOut)

	require.NoError(t, m.Unlock())

	done2 := make(chan error, 1)
	go func() {
		if err := m.LockTimeout(time.Second); err != nil {
			done2 <- err
			return
		}
		done2 <- m.Unlock()
	}()
	require.NoError(t, <-done2, "a free mutex is acquired well within the timeout")
}

func TestMutexExclusion(t *testing.T) {
	m := NewMutex()
	defer m.Dispose()

	const (
		goroutines = 8
		iterations = 500
	)
	counter := 0

	var g errgroup.Group
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			for j := 0; j < iterations; j++ {
				if err := m.Lock(); err != nil {
					return err
				}
				counter++
				if err := m.Unlock(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, goroutines*iterations, counter,
		"every increment should be visible under mutual exclusion")
}

func TestMutexNilReceiver(t *testing.T) {
	var m *Mutex
	require.ErrorIs(t, m.Init(), ErrInvalidArgument)
	m.Dispose() // no panic
}

func TestMutexContention(t *testing.T) {
	m := NewMutex()
	defer m.Dispose()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := m.Lock(); err != nil {
					errs <- err
					return
				}
				Yield()
				if err := m.Unlock(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error under contention: %v", err)
	}
}
