package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredRunsAfterTasksOfTheTick(t *testing.T) {
	l := New(nil)
	var order []string

	l.Post(func() {
		order = append(order, "task1")
		l.Defer(func() { order = append(order, "flush") })
	})
	l.Post(func() { order = append(order, "task2") })

	require.True(t, l.RunOnce())
	assert.Equal(t, []string{"task1", "task2", "flush"}, order)
	assert.False(t, l.RunOnce())
}

func TestTasksPostedDuringTickRunNextTick(t *testing.T) {
	l := New(nil)
	var order []string
	l.Post(func() {
		order = append(order, "a")
		l.Post(func() { order = append(order, "b") })
	})

	l.RunOnce()
	assert.Equal(t, []string{"a"}, order)
	l.RunOnce()
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestNestedDeferStaysInTick(t *testing.T) {
	l := New(nil)
	var order []string
	l.Defer(func() {
		order = append(order, "first")
		l.Defer(func() { order = append(order, "second") })
	})
	l.RunOnce()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPanicIsContained(t *testing.T) {
	l := New(nil)
	ran := false
	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })

	assert.NotPanics(t, l.RunUntilIdle)
	assert.True(t, ran)
}

func TestRunAndInvoke(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	value := 0
	require.NoError(t, l.Invoke(context.Background(), func() { value = 7 }))
	assert.Equal(t, 7, value)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.ErrorIs(t, l.Invoke(context.Background(), func() {}), ErrStopped)
}

func TestInvokeOnStoppedLoopReturnsAtOnce(t *testing.T) {
	l := New(nil)
	l.Stop()

	ran := false
	assert.ErrorIs(t, l.Invoke(context.Background(), func() { ran = true }), ErrStopped)
	l.RunUntilIdle()
	assert.False(t, ran)
}
