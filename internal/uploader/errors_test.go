package uploader

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := error(&Error{
		Op:        "open",
		Kind:      ErrIO,
		Path:      "topic/f.log",
		Container: "c",
		Key:       "logs/topic/f.log",
		Err:       fs.ErrNotExist,
	})

	if !errors.Is(err, ErrIO) {
		t.Error("errors.Is(err, ErrIO) = false")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("errors.Is(err, fs.ErrNotExist) = false")
	}
	if errors.Is(err, ErrBackend) {
		t.Error("errors.Is(err, ErrBackend) = true")
	}

	var ue *Error
	if !errors.As(err, &ue) || ue.Op != "open" {
		t.Errorf("errors.As = %v, op %q", ue, ue.Op)
	}
	if msg := err.Error(); !strings.Contains(msg, "c/logs/topic/f.log") || !strings.Contains(msg, "topic/f.log") {
		t.Errorf("Error() = %q, missing destination", msg)
	}
}

func TestErrorWithoutDestination(t *testing.T) {
	err := &Error{Op: "stat", Kind: ErrIO, Path: "x", Err: errors.New("boom")}
	want := "upload stat x: local i/o error: boom"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
