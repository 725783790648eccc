package id

import "github.com/google/uuid"

// Generator creates opaque identifiers for operations, batches and queue items.
type Generator interface {
	New() uuid.UUID
}

type Random struct{}

func (Random) New() uuid.UUID {
	return uuid.New()
}

// Sequence hands out fixed ids in order; test helper.
type Sequence struct {
	IDs []uuid.UUID
	idx int
}

func (s *Sequence) New() uuid.UUID {
	if s.idx >= len(s.IDs) {
		return uuid.Nil
	}
	v := s.IDs[s.idx]
	s.idx++
	return v
}
