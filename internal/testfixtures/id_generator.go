package testfixtures

import (
	"fmt"
	"sync"
)

// Sequence hands out "<prefix>-<n>" strings. Appointment tests use one for
// entity IDs and another for invite codes so both are predictable.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	next   uint64
}

// NewSequence returns a sequence starting at 1. An empty prefix becomes "id".
func NewSequence(prefix string) *Sequence {
	if prefix == "" {
		prefix = "id"
	}
	return &Sequence{prefix: prefix}
}

// Next returns the next value.
func (s *Sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s-%d", s.prefix, s.next)
}

// Func exposes Next for dependency injection. A nil sequence yields "".
func (s *Sequence) Func() func() string {
	if s == nil {
		return func() string { return "" }
	}
	return s.Next
}

// Peek reports the value Next would return without consuming it.
func (s *Sequence) Peek() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s-%d", s.prefix, s.next+1)
}
