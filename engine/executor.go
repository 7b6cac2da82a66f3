package engine

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrExecutorClosed is returned for calls submitted to, or still queued in,
// an executor that has been shut down.
var ErrExecutorClosed = errors.New("executor is shut down")

const (
	taskPending int32 = iota
	taskRunning
	taskAbandoned
	taskDone
)

// task is one native call waiting for the executor thread.
type task struct {
	fn      func() error
	release func()
	state   atomic.Int32
	done    chan error
}

// ExecutorStats contains executor statistics.
type ExecutorStats struct {
	Name        string  `json:"name"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Abandoned   int64   `json:"abandoned"`
	Pending     int     `json:"pending"`
	Capacity    int     `json:"capacity"`
	SuccessRate float64 `json:"success_rate"`
}

// Executor runs functions one at a time on a single goroutine locked to its
// OS thread. The native engine keeps per-thread state, so every call for one
// engine instance goes through the same executor.
type Executor struct {
	name  string
	tasks chan *task
	wg    sync.WaitGroup

	active    int64
	completed int64
	failed    int64
	abandoned int64

	closing atomic.Bool
	running bool
	mu      sync.RWMutex
}

// NewExecutor starts an executor with room for queueSize waiting calls.
func NewExecutor(name string, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 1
	}

	e := &Executor{
		name:    name,
		tasks:   make(chan *task, queueSize),
		running: true,
	}

	e.wg.Add(1)
	go e.loop()

	return e
}

func (e *Executor) loop() {
	defer e.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for t := range e.tasks {
		if e.closing.Load() {
			t.done <- ErrExecutorClosed
			continue
		}
		if !t.state.CompareAndSwap(taskPending, taskRunning) {
			// Caller gave up before the call started.
			continue
		}
		err := e.run(t)
		if !t.state.CompareAndSwap(taskRunning, taskDone) && err == nil && t.release != nil {
			// Caller gave up while the call ran; nobody will own the result.
			t.release()
		}
		t.done <- err
	}
}

// run executes a single task with panic recovery.
func (e *Executor) run(t *task) (err error) {
	atomic.AddInt64(&e.active, 1)
	defer atomic.AddInt64(&e.active, -1)

	defer func() {
		if r := recover(); r != nil {
			err = errors.New("panic in native call: " + panicToString(r))
		}
		if err != nil {
			atomic.AddInt64(&e.failed, 1)
		} else {
			atomic.AddInt64(&e.completed, 1)
		}
	}()

	return t.fn()
}

// panicToString converts a recovered panic value to a string.
func panicToString(r interface{}) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return "unknown panic"
	}
}

// Submit runs fn on the executor thread and waits for it.
//
// If ctx is done before fn starts, fn is skipped and ctx.Err() returned. If
// ctx is done while fn runs, Submit returns ctx.Err() at once and release,
// when not nil, is called on the executor thread after fn succeeds so the
// result is not leaked.
func (e *Executor) Submit(ctx context.Context, fn func() error, release func()) error {
	t := &task{fn: fn, release: release, done: make(chan error, 1)}

	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return ErrExecutorClosed
	}
	select {
	case e.tasks <- t:
		e.mu.RUnlock()
	case <-ctx.Done():
		e.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskPending, taskAbandoned) {
			atomic.AddInt64(&e.abandoned, 1)
			return ctx.Err()
		}
		if t.state.CompareAndSwap(taskRunning, taskAbandoned) {
			atomic.AddInt64(&e.abandoned, 1)
			return ctx.Err()
		}
		return <-t.done
	}
}

// Do runs fn on the executor thread without a deadline.
func (e *Executor) Do(fn func() error) error {
	return e.Submit(context.Background(), fn, nil)
}

// GetStats returns current executor statistics.
func (e *Executor) GetStats() ExecutorStats {
	completed := atomic.LoadInt64(&e.completed)
	failed := atomic.LoadInt64(&e.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return ExecutorStats{
		Name:        e.name,
		Active:      atomic.LoadInt64(&e.active),
		Completed:   completed,
		Failed:      failed,
		Abandoned:   atomic.LoadInt64(&e.abandoned),
		Pending:     len(e.tasks),
		Capacity:    cap(e.tasks),
		SuccessRate: successRate,
	}
}

// Shutdown stops accepting calls, fails the ones still queued with
// ErrExecutorClosed and waits for the running call to finish.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.closing.Store(true)
	close(e.tasks)
	e.mu.Unlock()

	e.wg.Wait()
}

// ShutdownWithTimeout shuts down with a timeout.
func (e *Executor) ShutdownWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		e.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("shutdown timeout")
	}
}

// IsRunning returns true if the executor is still accepting calls.
func (e *Executor) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
