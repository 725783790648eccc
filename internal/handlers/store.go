package handlers

import (
	"sort"
	"sync"
	"time"

	"kizuna/internal/domain"
)

// OperationEvent is the merge input every collaborator event reduces to.
// Nil fields leave the stored value alone.
type OperationEvent struct {
	OperationID         domain.OperationID
	State               *domain.OperationState
	FailureReason       string
	Progress            *domain.ProgressInfo
	EstimatedCompletion *time.Time
}

// operationStore is the thread-safe map of active operations every handler
// keeps. Readers snapshot; the owning handler merges events under the write
// lock.
type operationStore struct {
	mu  sync.RWMutex
	ops map[domain.OperationID]domain.OperationStatus
}

func newOperationStore() *operationStore {
	return &operationStore{ops: map[domain.OperationID]domain.OperationStatus{}}
}

// register inserts a fresh operation; the only way ids become known.
func (s *operationStore) register(op domain.OperationStatus) {
	s.mu.Lock()
	s.ops[op.OperationID] = op
	s.mu.Unlock()
}

func (s *operationStore) get(id domain.OperationID) (domain.OperationStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	return op, ok
}

// snapshot returns a copy of every operation, ordered by start time then id
// for stable rendering.
func (s *operationStore) snapshot() []domain.OperationStatus {
	s.mu.RLock()
	out := make([]domain.OperationStatus, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, op)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].OperationID.String() < out[j].OperationID.String()
	})
	return out
}

// merge applies the shared coalescing rule: unknown ids are dropped, terminal
// states are sticky, incoming fields replace stored ones, and transfer
// progress never moves backward. Returns the stored status and whether the
// event changed anything.
func (s *operationStore) merge(ev OperationEvent) (domain.OperationStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[ev.OperationID]
	if !ok {
		return domain.OperationStatus{}, false
	}
	if op.State.Terminal() {
		return op, false
	}

	if ev.State != nil {
		op.State = *ev.State
		if *ev.State == domain.StateFailed {
			op.FailureReason = ev.FailureReason
		}
	}
	if ev.Progress != nil {
		incoming := *ev.Progress
		// Viewer counts (streams) may legitimately shrink; byte counters
		// may not.
		if op.OperationType != domain.CameraStream &&
			op.Progress != nil && incoming.Current < op.Progress.Current {
			incoming.Current = op.Progress.Current
		}
		op.Progress = &incoming
	}
	if ev.EstimatedCompletion != nil {
		op.EstimatedCompletion = ev.EstimatedCompletion
	}
	s.ops[ev.OperationID] = op
	return op, true
}

// cancel forces a non-terminal operation to Cancelled; the terminal-sticky
// rule then shields it from late collaborator events.
func (s *operationStore) cancel(id domain.OperationID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok || op.State.Terminal() {
		return false
	}
	op.State = domain.StateCancelled
	s.ops[id] = op
	return true
}

// countInState tallies operations currently in the given state.
func (s *operationStore) countInState(state domain.OperationState) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, op := range s.ops {
		if op.State == state {
			n++
		}
	}
	return n
}
