package backend_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/shipper/internal/backend"
)

func TestWithMaxDurationBounded(t *testing.T) {
	ctx, cancel := backend.WithMaxDuration(context.Background(), backend.WriteOptions{MaxDuration: 20 * time.Millisecond})
	defer cancel()

	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected a deadline")
	}
	<-ctx.Done()
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", ctx.Err())
	}
}

func TestWithMaxDurationUnbounded(t *testing.T) {
	ctx, cancel := backend.WithMaxDuration(context.Background(), backend.WriteOptions{})

	if _, ok := ctx.Deadline(); ok {
		t.Error("expected no deadline for zero MaxDuration")
	}
	cancel()
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Errorf("ctx.Err() = %v, want Canceled", ctx.Err())
	}
}
