package uiloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	loop := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

func TestPostRunsInOrder(t *testing.T) {
	loop := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, loop.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, loop.Call(context.Background(), func() {}))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestPostFromManyGoroutines(t *testing.T) {
	loop := startLoop(t)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loop.Call(context.Background(), func() { counter++ })
		}()
	}
	wg.Wait()

	var final int
	require.NoError(t, loop.Call(context.Background(), func() { final = counter }))
	assert.Equal(t, 50, final)
}

func TestCallReportsPanic(t *testing.T) {
	loop := startLoop(t)

	err := loop.Call(context.Background(), func() { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// The loop keeps running after a panicking task.
	assert.NoError(t, loop.Call(context.Background(), func() {}))
}

func TestPostAfterStop(t *testing.T) {
	loop := New(1)
	loop.Stop()
	loop.Stop()

	assert.ErrorIs(t, loop.Post(func() {}), ErrStopped)
	assert.ErrorIs(t, loop.Call(context.Background(), func() {}), ErrStopped)
}

func TestCallHonoursContext(t *testing.T) {
	loop := New(1)
	defer loop.Stop()

	// Nothing runs the loop, so Call can only return through ctx.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, loop.Call(ctx, func() {}), context.DeadlineExceeded)
}
