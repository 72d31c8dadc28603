// Package uiloop runs functions one at a time on a single goroutine.
//
// Everything the reader session owns (current document, scan cache, stored
// OCR options, in-flight requests) is only touched from functions posted to
// the loop, so none of it needs locking.
package uiloop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrStopped is returned when posting to a loop that has shut down.
var ErrStopped = errors.New("ui loop stopped")

type Loop struct {
	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop whose queue holds up to buffer pending functions.
func New(buffer int) *Loop {
	if buffer < 1 {
		buffer = 1
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run processes posted functions until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return nil
		case <-l.done:
			return nil
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ui loop task panicked")
		}
	}()
	fn()
}

// Post queues fn without waiting for it to run.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Call runs fn on the loop and waits for it to return.
// It must not be called from the loop itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	var panicked any
	err := l.Post(func() {
		defer close(finished)
		defer func() { panicked = recover() }()
		fn()
	})
	if err != nil {
		return err
	}

	select {
	case <-finished:
		if panicked != nil {
			return fmt.Errorf("ui loop call panicked: %v", panicked)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// Stop ends Run. Queued functions are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *Loop) Done() <-chan struct{} { return l.done }
