package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs submitted functions in the background, at most size at a time.
// Submit never blocks the caller.
type Pool struct {
	sem    *semaphore.Weighted
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		// Background context: accepted work always runs, Close waits for it.
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		p.run(fn)
	}()
	return nil
}

func (p *Pool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("worker task panicked")
		}
	}()
	fn()
}

// Close rejects new work and waits for accepted work to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
