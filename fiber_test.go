package threadkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertOncePerGoroutine(t *testing.T) {
	main, err := Convert()
	require.NoError(t, err)
	defer func() { require.NoError(t, main.Dispose()) }()

	assert.True(t, main.Main())
	assert.Same(t, main, Current(), "the converting goroutine is the main fiber")

	_, err = Convert()
	require.ErrorIs(t, err, ErrBusy, "a second convert on the same goroutine is rejected")
}

func TestCurrentUnconverted(t *testing.T) {
	got := make(chan *Fiber, 1)
	go func() {
		got <- Current()
	}()
	assert.Nil(t, <-got, "a goroutine outside any group has no current fiber")
}

func TestFiberNewFiberValidation(t *testing.T) {
	main, err := Convert()
	require.NoError(t, err)
	defer func() { require.NoError(t, main.Dispose()) }()

	_, err = main.NewFiber(nil, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	assert.Panics(t, func() {
		WithStackSize(0)
	})
}

func TestFiberPingPong(t *testing.T) {
	main, err := Convert()
	require.NoError(t, err)
	defer func() { require.NoError(t, main.Dispose()) }()

	var steps []string
	f, err := main.NewFiber(func(arg any) {
		steps = append(steps, "fiber:first")
		self := Current()
		assert.NotNil(t, self)
		assert.NoError(t, self.Switch(main))
		steps = append(steps, "fiber:second")
	}, nil)
	require.NoError(t, err)

	steps = append(steps, "main:before")
	require.NoError(t, main.Switch(f))
	steps = append(steps, "main:between")
	assert.False(t, f.Finished())

	require.NoError(t, main.Switch(f))
	steps = append(steps, "main:after")
	assert.True(t, f.Finished(), "entry returned, the fiber is finished")

	assert.Equal(t, []string{
		"main:before",
		"fiber:first",
		"main:between",
		"fiber:second",
		"main:after",
	}, steps, "control alternates strictly through explicit switches")

	require.NoError(t, f.Dispose())
}

func TestFiberEntryArgument(t *testing.T) {
	main, err := Convert()
	require.NoError(t, err)
	defer func() { require.NoError(t, main.Dispose()) }()

	var got any
	f, err := main.NewFiber(func(arg any) {
		got = arg
	}, "payload")
	require.NoError(t, err)

	require.NoError(t, main.Switch(f))
	assert.Equal(t, "payload", got)
	require.NoError(t, f.Dispose())
}

func TestFiberReturnFollowsLink(t *testing.T) {
	main, err := Convert()
	require.NoError(t, err)
	defer func() { require.NoError(t, main.Dispose()) }()

	var order []int
	inner, err := main.NewFiber(func(arg any) {
		order = append(order, 2)
	}, nil)
	require.NoError(t, err)

	outer, err := main.NewFiber(func(arg any) {
		order = append(order, 1)
		assert.NoError(t, Current().Switch(inner))
		order = append(order, 3)
	}, nil)
	require.NoError(t, err)

	require.NoError(t, main.Switch(outer))
	// inner finished with outer as its link, so outer resumed and then
	// returned to main.
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.True(t, inner.Finished())
	assert.True(t, outer.Finished())

	require.NoError(t, inner.Dispose())
	require.NoError(t, outer.Dispose())
}

func TestFiberSwitchWrongGoroutine(t *testing.T) {
	main, err := Convert()
	require.NoError(t, err)
	defer func() { require.NoError(t, main.Dispose()) }()

	f, err := main.NewFiber(func(arg any) {}, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Dispose()) }()

	errCh := make(chan error, 1)
	go func() {
		errCh <- main.Switch(f)
	}()
	require.ErrorIs(t, <-errCh, ErrNotPermitted,
		"resuming from outside the group's goroutine is rejected")
}

func TestFiberSwitchValidation(t *testing.T) {
	main, err := Convert()
	require.NoError(t, err)
	defer func() { require.NoError(t, main.Dispose()) }()

	require.ErrorIs(t, main.Switch(nil), ErrInvalidArgument)
	require.ErrorIs(t, main.Switch(main), ErrInvalidArgument)

	f, err := main.NewFiber(func(arg any) {}, nil)
	require.NoError(t, err)
	require.NoError(t, main.Switch(f))

	err = main.Switch(f)
	require.ErrorIs(t, err, ErrFinished, "a finished fiber cannot be resumed")
	require.NoError(t, f.Dispose())
}

func TestFiberDisposeRules(t *testing.T) {
	main, err := Convert()
	require.NoError(t, err)
	defer func() { require.NoError(t, main.Dispose()) }()

	// Never-resumed fibers may be disposed.
	idle, err := main.NewFiber(func(arg any) {
		t.Error("a never-resumed fiber must not run")
	}, nil)
	require.NoError(t, err)
	require.NoError(t, idle.Dispose())
	require.NoError(t, idle.Dispose(), "dispose is idempotent")

	// The current fiber cannot dispose itself.
	var selfErr error
	f, err := main.NewFiber(func(arg any) {
		selfErr = Current().Dispose()
	}, nil)
	require.NoError(t, err)
	require.NoError(t, main.Switch(f))
	require.ErrorIs(t, selfErr, ErrBusy, "a fiber must not be disposed while current")
	require.NoError(t, f.Dispose())
}

func TestFiberMainDisposeWrongGoroutine(t *testing.T) {
	main, err := Convert()
	require.NoError(t, err)
	defer func() { require.NoError(t, main.Dispose()) }()

	errCh := make(chan error, 1)
	go func() {
		errCh <- main.Dispose()
	}()
	require.ErrorIs(t, <-errCh, ErrNotPermitted,
		"the main fiber is released only from its own goroutine")
}

func TestFiberStackSizeAdvisory(t *testing.T) {
	main, err := Convert()
	require.NoError(t, err)
	defer func() { require.NoError(t, main.Dispose()) }()

	f, err := main.NewFiber(func(arg any) {}, nil, WithStackSize(128*1024))
	require.NoError(t, err)
	assert.Equal(t, 128*1024, f.StackSize())
	assert.Equal(t, DefaultStackSize, main.StackSize())
	require.NoError(t, f.Dispose())
}

func TestFiberGroupReleasedRejectsCreate(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		main, err := Convert()
		if err != nil {
			done <- err
			return
		}
		if err := main.Dispose(); err != nil {
			done <- err
			return
		}
		_, err = main.NewFiber(func(arg any) {}, nil)
		done <- err
	}()
	require.ErrorIs(t, <-done, ErrInvalidArgument,
		"a released group creates no fibers")
}
