// Package mailbox provides a single-slot, overwrite-on-write mailbox.
//
// Only the most recent pending message matters: a Put while a message is
// waiting replaces it, and Take empties the slot.
package mailbox

import "sync"

// Slot holds at most one pending value of type T. Safe for concurrent use.
type Slot[T any] struct {
	mu      sync.Mutex
	value   T
	pending bool
}

// Put stores v, replacing any pending value. It reports whether a pending
// value was superseded.
func (s *Slot[T]) Put(v T) (replaced bool) {
	s.mu.Lock()
	replaced = s.pending
	s.value = v
	s.pending = true
	s.mu.Unlock()
	return replaced
}

// Take removes and returns the pending value, if any.
func (s *Slot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if !s.pending {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.pending = false
	return v, true
}

// Pending reports whether a value is waiting.
func (s *Slot[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
