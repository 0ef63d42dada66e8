// Package local writes uploads into a directory tree. It backs development
// setups and tests, and mirrors the remote backends' container and key
// layout on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/seantiz/shipper/internal/backend"
)

// Name is the backend name.
const Name = "local"

// ErrShortWrite is returned when the source ends before the declared size.
var ErrShortWrite = errors.New("short write")

var _ backend.Backend = (*Backend)(nil)

// Backend stores each container as a directory of fs.
type Backend struct {
	fs billy.Filesystem
}

// New returns a backend rooted at fs.
func New(fs billy.Filesystem) *Backend {
	return &Backend{fs: fs}
}

func (b *Backend) Name() string { return Name }

// EnsureContainer creates the container directory.
func (b *Backend) EnsureContainer(_ context.Context, container string) error {
	if err := b.fs.MkdirAll(container, 0o755); err != nil {
		return fmt.Errorf("create container %s: %w", container, err)
	}
	return nil
}

// Write copies size bytes from r to container/key. The object appears
// atomically: data goes to a temporary file that is renamed into place.
func (b *Backend) Write(ctx context.Context, container, key string, r io.Reader, size int64, opts backend.WriteOptions) (err error) {
	ctx, cancel := backend.WithMaxDuration(ctx, opts)
	defer cancel()

	dst := b.fs.Join(container, strings.TrimLeft(key, "/"))
	dir := path.Dir(dst)
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := b.fs.TempFile(dir, ".upload-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			b.fs.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: io.LimitReader(r, size)})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if n != size {
		return fmt.Errorf("write %s: %w: %d of %d bytes", key, ErrShortWrite, n, size)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := b.fs.Rename(tmp.Name(), dst); err != nil {
		b.fs.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Stat reports the stored object, for callers that verify a write.
func (b *Backend) Stat(container, key string) (os.FileInfo, error) {
	return b.fs.Stat(b.fs.Join(container, strings.TrimLeft(key, "/")))
}
