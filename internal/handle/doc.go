// Package handle provides Handle, the caller-facing reference to the
// eventual outcome of one asynchronous task. A handle is resolved exactly
// once: completed with a value, failed with an error, or cancelled.
package handle
