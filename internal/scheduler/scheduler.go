package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Func is one scheduled unit of work.
type Func func(ctx context.Context) error

// PanicError is reported to OnError when a tick panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("scheduled task panicked: %v", e.Value)
}

// Options tunes a Task.
type Options struct {
	// Immediate runs the first tick right away instead of after one interval.
	Immediate bool
	// OnError receives errors returned by, or panics raised from, a tick.
	OnError func(ctx context.Context, err error)
}

// Task is a running schedule.
type Task struct {
	interval time.Duration
	fn       Func
	opts     Options

	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}

	mu    sync.Mutex
	ticks int
}

// Every starts calling fn every interval until ctx is done or the task is
// cancelled.
func Every(ctx context.Context, interval time.Duration, fn Func, opts Options) (*Task, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}
	if fn == nil {
		return nil, fmt.Errorf("scheduler: nil func")
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		interval: interval,
		fn:       fn,
		opts:     opts,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go t.loop(ctx)
	return t, nil
}

func (t *Task) loop(ctx context.Context) {
	defer close(t.done)

	if t.opts.Immediate {
		t.run(ctx)
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			t.run(ctx)
		}
	}
}

// Run executes fn once inside the same recover boundary as scheduled ticks.
// It is exported for event-driven callers that share a task's error hook.
func (t *Task) Run(ctx context.Context, fn Func) {
	err := Safely(ctx, fn)
	if err != nil && t.opts.OnError != nil {
		t.opts.OnError(ctx, err)
	}
}

func (t *Task) run(ctx context.Context) {
	t.mu.Lock()
	t.ticks++
	t.mu.Unlock()
	t.Run(ctx, t.fn)
}

// Safely calls fn and converts a panic into a *PanicError.
func Safely(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// Ticks reports how many scheduled calls have started.
func (t *Task) Ticks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}

// Cancel stops the task. It is safe to call more than once and from inside
// the scheduled func.
func (t *Task) Cancel() {
	t.once.Do(t.cancel)
}

// Wait blocks until the loop has exited.
func (t *Task) Wait() {
	<-t.done
}

// Done is closed when the loop has exited.
func (t *Task) Done() <-chan struct{} { return t.done }
