package pool

import (
	"strconv"
	"sync/atomic"
)

// NameSequence hands out worker names of the form <prefix>-<n>, with n
// starting at 1 and increasing by one per call. It is safe for concurrent
// use and never repeats a name.
type NameSequence struct {
	prefix string
	n      atomic.Int64
}

// NewNameSequence returns a sequence for the given prefix.
func NewNameSequence(prefix string) *NameSequence {
	return &NameSequence{prefix: prefix}
}

// Next returns the next name in the sequence.
func (s *NameSequence) Next() string {
	_, name := s.next()
	return name
}

func (s *NameSequence) next() (int64, string) {
	n := s.n.Add(1)
	return n, s.prefix + "-" + strconv.FormatInt(n, 10)
}

// Prefix returns the prefix names are built from.
func (s *NameSequence) Prefix() string {
	return s.prefix
}
