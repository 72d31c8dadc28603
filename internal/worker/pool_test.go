package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolLimitsConcurrency(t *testing.T) {
	pool := NewPool(2)

	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		require.NoError(t, pool.Submit(func() {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}))
	}
	pool.Close()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(0), running.Load())
}

func TestPoolSurvivesPanics(t *testing.T) {
	pool := NewPool(1)

	var ran atomic.Bool
	require.NoError(t, pool.Submit(func() { panic("boom") }))
	require.NoError(t, pool.Submit(func() { ran.Store(true) }))
	pool.Close()

	assert.True(t, ran.Load())
}

func TestPoolRejectsAfterClose(t *testing.T) {
	pool := NewPool(1)
	pool.Close()
	assert.ErrorIs(t, pool.Submit(func() {}), ErrPoolClosed)
}
