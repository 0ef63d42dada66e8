package handle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrTimeout is returned by Wait when the caller's wait deadline elapses.
	// The underlying task keeps running.
	ErrTimeout = errors.New("wait timed out")

	// ErrCancelled is returned by Wait when the task was cancelled.
	ErrCancelled = errors.New("task cancelled")
)

// FailedError wraps the error a task failed with.
type FailedError struct {
	Cause error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("task failed: %v", e.Cause)
}

func (e *FailedError) Unwrap() error {
	return e.Cause
}

// State is the lifecycle state of a Handle.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled

	// stateResolving marks a claimed handle whose outcome is being written.
	stateResolving
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Handle is a write-once reference to the eventual outcome of one task.
// The submitter reads it; exactly one writer (the pool) resolves it.
// It is safe for concurrent use.
type Handle[T any] struct {
	state           atomic.Int32
	cancelRequested atomic.Bool

	// running is the state a claim interrupted, reported by State while
	// the outcome is being written.
	running atomic.Bool

	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	// written once before done is closed
	value T
	err   error
	final State

	mu        sync.Mutex
	callbacks []func(State)
}

// New returns a pending handle.
func New[T any]() *Handle[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle[T]{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context is cancelled when Cancel is called. Tasks should pass it to
// blocking calls that honour cancellation.
func (h *Handle[T]) Context() context.Context {
	return h.ctx
}

// Start moves the handle from pending to running. It returns false if the
// handle was cancelled (or otherwise resolved) first, in which case the task
// must not run.
func (h *Handle[T]) Start() bool {
	if h.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		h.running.Store(true)
		return true
	}
	return false
}

// Complete resolves the handle with a value.
func (h *Handle[T]) Complete(v T) bool {
	return h.resolve(StateCompleted, v, nil)
}

// Fail resolves the handle with an error. If Cancel was called while the
// task was running, the handle resolves cancelled with err as the cause.
func (h *Handle[T]) Fail(err error) bool {
	var zero T
	if h.cancelRequested.Load() {
		return h.resolve(StateCancelled, zero, fmt.Errorf("%w: %w", ErrCancelled, err))
	}
	return h.resolve(StateFailed, zero, &FailedError{Cause: err})
}

// Cancel prevents a pending task from starting and resolves the handle
// cancelled. For a running task it only cancels Context; the task is not
// interrupted and the handle resolves when the task returns. Cancel on a
// resolved handle is a no-op. It reports whether this call cancelled the
// handle.
func (h *Handle[T]) Cancel() bool {
	if h.IsDone() {
		return false
	}
	h.cancelRequested.Store(true)
	h.cancel()

	if !h.state.CompareAndSwap(int32(StatePending), int32(stateResolving)) {
		return false
	}
	var zero T
	h.finish(StateCancelled, zero, ErrCancelled)
	return true
}

// resolve claims the single terminal transition. Losers return false.
func (h *Handle[T]) resolve(to State, v T, err error) bool {
	for {
		cur := State(h.state.Load())
		if cur.Terminal() || cur == stateResolving {
			return false
		}
		if h.state.CompareAndSwap(int32(cur), int32(stateResolving)) {
			h.finish(to, v, err)
			return true
		}
	}
}

func (h *Handle[T]) finish(to State, v T, err error) {
	h.value = v
	h.err = err
	h.final = to
	// done closes first so a terminal State always has a readable Result.
	close(h.done)
	h.state.Store(int32(to))
	h.cancel()

	h.mu.Lock()
	callbacks := h.callbacks
	h.callbacks = nil
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(to)
	}
}

// OnDone registers fn to run once the handle is resolved. If it already is,
// fn runs immediately on the calling goroutine; otherwise it runs on the
// goroutine that resolves the handle.
func (h *Handle[T]) OnDone(fn func(State)) {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		fn(h.final)
		return
	default:
	}
	h.callbacks = append(h.callbacks, fn)
	h.mu.Unlock()
}

// Done returns a channel closed when the handle is resolved.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// IsDone reports whether the handle is resolved, without blocking.
func (h *Handle[T]) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// State returns the current state.
func (h *Handle[T]) State() State {
	s := State(h.state.Load())
	if s != stateResolving {
		return s
	}
	if h.IsDone() {
		return h.final
	}
	if h.running.Load() {
		return StateRunning
	}
	return StatePending
}

// Wait blocks until the handle is resolved or ctx is done. When ctx's
// deadline passes first the returned error wraps ErrTimeout.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.outcome()
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

// WaitTimeout is Wait bounded by d. A non-positive d waits forever.
func (h *Handle[T]) WaitTimeout(d time.Duration) (T, error) {
	if d <= 0 {
		return h.Wait(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return h.Wait(ctx)
}

// Result returns the outcome without blocking. ok is false while the
// handle is unresolved.
func (h *Handle[T]) Result() (v T, err error, ok bool) {
	if !h.IsDone() {
		return v, nil, false
	}
	v, err = h.outcome()
	return v, err, true
}

// Err returns the stored error of a resolved handle, nil otherwise.
func (h *Handle[T]) Err() error {
	_, err, _ := h.Result()
	return err
}

func (h *Handle[T]) outcome() (T, error) {
	return h.value, h.err
}
