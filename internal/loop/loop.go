// Package loop provides the single goroutine on which all station state is
// mutated. Network calls and timers run elsewhere and Post their results
// back, so handlers never need locks.
package loop

import (
	"context"
	"errors"
)

var ErrStopped = errors.New("event loop stopped")

// Poster schedules fn to run on the loop goroutine.
type Poster interface {
	Post(fn func()) bool
}

type Loop struct {
	queue chan func()
	done  chan struct{}
}

func New(size int) *Loop {
	if size <= 0 {
		size = 64
	}
	return &Loop{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Post queues fn. It reports false when the loop has stopped and fn will never
// run. Post must not be called from the loop goroutine while the queue may be
// full; handlers running on the loop call each other directly instead.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// Run executes queued functions until ctx is cancelled. It returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.queue:
			fn()
		}
	}
}
