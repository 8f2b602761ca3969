// Package inbox provides a single-slot, last-writer-wins handoff.
package inbox

import "sync"

// Slot holds at most one value. Offer never blocks: a value already in the
// slot is replaced and returned to the caller. Take never blocks either.
type Slot[T any] struct {
	mu   sync.Mutex
	v    T
	full bool

	offered   uint64
	displaced uint64
}

// Offer stores v. If the slot was full, the previous value is returned with overwrote=true.
func (s *Slot[T]) Offer(v T) (prev T, overwrote bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, overwrote = s.v, s.full
	s.v, s.full = v, true
	s.offered++
	if overwrote {
		s.displaced++
	}
	return prev, overwrote
}

// Take empties the slot.
func (s *Slot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if !s.full {
		return zero, false
	}
	v := s.v
	s.v, s.full = zero, false
	return v, true
}

func (s *Slot[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return 1
	}
	return 0
}

// Stats returns how many values were offered and how many were lost to overwrite.
func (s *Slot[T]) Stats() (offered, displaced uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offered, s.displaced
}
