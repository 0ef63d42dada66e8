package uploader

import (
	"errors"
	"fmt"
)

// Error kinds. Every failed upload resolves with an *Error whose Kind is one
// of these, so callers can branch with errors.Is.
var (
	// ErrIO means the local file could not be opened, inspected or read.
	ErrIO = errors.New("local i/o error")

	// ErrBackend means the remote store rejected or failed the operation.
	ErrBackend = errors.New("backend error")

	// ErrTransferTimeout means the write was cut off by its own deadline.
	ErrTransferTimeout = errors.New("transfer timed out")
)

var (
	// ErrInvalidConfig is returned by NewManager for unusable settings.
	ErrInvalidConfig = errors.New("invalid upload configuration")

	// ErrUnknownUpload is returned for an ID the manager is not tracking.
	ErrUnknownUpload = errors.New("upload not in flight")

	// ErrNotCancellable is returned when an upload has already started.
	ErrNotCancellable = errors.New("upload already started")

	// ErrUnknownBackend is returned by Registry.Resolve.
	ErrUnknownBackend = errors.New("backend is not registered")

	// ErrDuplicateBackend is returned by Registry.Register for a name that
	// already has a manager.
	ErrDuplicateBackend = errors.New("backend is already registered")
)

// Error describes a failed upload.
type Error struct {
	// Op is the step that failed: "open", "stat", "read", "ensure container" or "write".
	Op string

	// Kind is ErrIO, ErrBackend or ErrTransferTimeout.
	Kind error

	Path      string
	Container string
	Key       string

	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	if e.Container != "" && e.Key != "" {
		return fmt.Sprintf("upload %s %s to %s/%s: %v: %v", e.Op, e.Path, e.Container, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("upload %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
