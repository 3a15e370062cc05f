package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/logger"
)

// ErrLoopStopped is returned when work is handed to a loop that no longer runs.
var ErrLoopStopped = errors.New("owner loop stopped")

// Dispatcher delivers functions onto an owner execution context.
type Dispatcher interface {
	Dispatch(fn func())
}

// Loop runs dispatched functions one at a time on a single goroutine.
// State owned by the loop may be mutated from dispatched functions without locks.
type Loop struct {
	log logger.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

// NewLoop creates an idle loop. Call Run to start draining it.
func NewLoop(log logger.Logger) *Loop {
	return &Loop{
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Dispatch enqueues fn without blocking the caller.
func (l *Loop) Dispatch(fn func()) {
	if fn == nil {
		return
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		if l.log != nil {
			l.log.Warning("owner loop stopped; dropping dispatched callback")
		}
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for its result.
// It must not be called from the loop itself.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return ErrLoopStopped
	}

	done := make(chan error, 1)
	l.Dispatch(func() {
		done <- fn()
	})

	select {
	case err := <-done:
		return err
	case <-l.done:
		select {
		case err := <-done:
			return err
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains queued functions in FIFO order until ctx is done.
// Functions still queued when ctx ends are discarded.
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			fn()
			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// next pops the oldest queued function.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}
