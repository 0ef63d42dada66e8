package backend

import (
	"context"
	"io"
	"time"
)

// Backend is the interface that all upload destinations must implement.
type Backend interface {
	// Name identifies the backend in logs, metrics and pool names.
	Name() string

	// EnsureContainer creates the container if it does not exist. It must be
	// idempotent and safe to call concurrently for the same container.
	EnsureContainer(ctx context.Context, container string) error

	// Write stores exactly size bytes read from r under key in container.
	// When opts.MaxDuration is positive the backend gives up once it has
	// elapsed and returns an error wrapping context.DeadlineExceeded.
	Write(ctx context.Context, container, key string, r io.Reader, size int64, opts WriteOptions) error
}

// WriteOptions tunes a single Write.
type WriteOptions struct {
	// MaxDuration bounds the transfer. Zero means no bound.
	MaxDuration time.Duration

	// ContentType is recorded on the stored object when the backend supports it.
	ContentType string
}

// WithMaxDuration derives the context a backend should run a Write under.
func WithMaxDuration(ctx context.Context, opts WriteOptions) (context.Context, context.CancelFunc) {
	if opts.MaxDuration > 0 {
		return context.WithTimeout(ctx, opts.MaxDuration)
	}
	return context.WithCancel(ctx)
}
