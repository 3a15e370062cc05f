package jobs

import (
	"errors"
	"fmt"
	"sync"

	"audiotext/internal/domain"
)

// ErrTaskStarted is returned when Start is called on a task that already ran.
var ErrTaskStarted = errors.New("task already started")

// ErrNoWork is returned when Start is called without a work function.
var ErrNoWork = errors.New("task work is required")

const (
	logTaskStarted   = "Task started..."
	logTaskCompleted = "Task completed successfully!"
)

// Reporter lets work emit advisory log and progress notifications.
type Reporter interface {
	Log(message string)
	Progress(percent int)
}

// Work is the unit of background execution, already bound to its inputs.
type Work[T any] func(r Reporter) (T, error)

// Callbacks receive task notifications on the task's dispatcher.
// Every field is optional.
type Callbacks[T any] struct {
	OnLog      func(message string)
	OnProgress func(percent int)
	OnFinished func(result T)
	OnError    func(err error)
}

// Task runs one Work on its own goroutine and delivers callbacks on the
// dispatcher it was created with. A task runs at most once.
type Task[T any] struct {
	dispatcher Dispatcher
	state      *stateMachine
	done       chan struct{}

	// sendMu orders reporter dispatches before the terminal dispatch.
	sendMu sync.Mutex
	closed bool

	mu     sync.RWMutex
	result T
	err    error
}

// NewTask binds a new idle task to the owner dispatcher d.
func NewTask[T any](d Dispatcher) *Task[T] {
	return &Task[T]{
		dispatcher: d,
		state:      newStateMachine(),
		done:       make(chan struct{}),
	}
}

// Start begins executing work in the background and returns immediately.
func (t *Task[T]) Start(work Work[T], cb Callbacks[T]) error {
	if work == nil {
		return ErrNoWork
	}
	if err := t.state.Transition(domain.TaskStateRunning); err != nil {
		return ErrTaskStarted
	}

	go t.run(work, cb)
	return nil
}

// State returns the task's current lifecycle state.
func (t *Task[T]) State() domain.TaskState {
	return t.state.Current()
}

// Result returns the value produced by work. Valid once completed.
func (t *Task[T]) Result() T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// Err returns the failure delivered to OnError. Valid once failed.
func (t *Task[T]) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Done is closed after the last callback of the task has run.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// run executes on the worker goroutine. It never calls callbacks directly.
func (t *Task[T]) run(work Work[T], cb Callbacks[T]) {
	reporter := &taskReporter[T]{task: t, cb: cb}
	reporter.Log(logTaskStarted)

	result, err := invoke(work, reporter)
	t.sendMu.Lock()
	t.closed = true
	t.sendMu.Unlock()

	if err != nil {
		err = fmt.Errorf("task execution: %w", err)
		t.dispatcher.Dispatch(func() {
			defer close(t.done)
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
			_ = t.state.Transition(domain.TaskStateFailed)
			if cb.OnError != nil {
				cb.OnError(err)
			}
		})
		return
	}

	// Finished and the completion log share one dispatch so nothing queued
	// on the owner can run between them.
	t.dispatcher.Dispatch(func() {
		defer close(t.done)
		t.mu.Lock()
		t.result = result
		t.mu.Unlock()
		_ = t.state.Transition(domain.TaskStateCompleted)
		if cb.OnFinished != nil {
			cb.OnFinished(result)
		}
		if cb.OnLog != nil {
			cb.OnLog(logTaskCompleted)
		}
	})
}

// invoke calls work and converts a panic into an error.
func invoke[T any](work Work[T], r Reporter) (result T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero T
			result = zero
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return work(r)
}

// taskReporter forwards work notifications to the owner dispatcher.
type taskReporter[T any] struct {
	task *Task[T]
	cb   Callbacks[T]
}

// Log posts a log line. Calls after work returned are dropped.
func (r *taskReporter[T]) Log(message string) {
	if r.cb.OnLog == nil {
		return
	}
	r.task.sendMu.Lock()
	defer r.task.sendMu.Unlock()
	if r.task.closed {
		return
	}
	onLog := r.cb.OnLog
	r.task.dispatcher.Dispatch(func() { onLog(message) })
}

// Progress posts a progress value clamped to 0..100.
func (r *taskReporter[T]) Progress(percent int) {
	if r.cb.OnProgress == nil {
		return
	}
	r.task.sendMu.Lock()
	defer r.task.sendMu.Unlock()
	if r.task.closed {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	onProgress := r.cb.OnProgress
	r.task.dispatcher.Dispatch(func() { onProgress(percent) })
}
