package pool

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/seantiz/shipper/internal/handle"
)

// PanicError is the failure recorded on a handle whose task panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Submit schedules fn on p and returns a handle to its outcome. fn receives
// the handle's context, which is cancelled when the handle is cancelled.
// If the handle is cancelled before a worker picks the task up, fn never
// runs. If p rejects the task the handle fails with the rejection error.
func Submit[T any](p *Pool, fn func(ctx context.Context) (T, error)) *handle.Handle[T] {
	h := handle.New[T]()

	err := p.Execute(func() {
		if !h.Start() {
			return
		}
		v, err := call(h.Context(), fn)
		if err != nil {
			h.Fail(err)
			return
		}
		h.Complete(v)
	})
	if err != nil {
		h.Fail(err)
	}
	return h
}

// call runs fn and turns a panic into an error so the handle always
// resolves.
func call[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}
