package handlers

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"kizuna/internal/domain"
)

func u64(v uint64) *uint64 { return &v }

func newTransferOp(id uuid.UUID) domain.OperationStatus {
	return domain.OperationStatus{
		OperationID:   id,
		OperationType: domain.FileTransfer,
		State:         domain.StateStarting,
		StartedAt:     time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	}
}

func TestMergeDropsUnknownID(t *testing.T) {
	t.Parallel()
	store := newOperationStore()
	state := domain.StateInProgress

	_, changed := store.merge(OperationEvent{OperationID: uuid.New(), State: &state})
	if changed {
		t.Fatal("event for unregistered id must be dropped")
	}
	if got := store.snapshot(); len(got) != 0 {
		t.Fatalf("store should stay empty, got %d entries", len(got))
	}
}

func TestMergeTerminalStateIsSticky(t *testing.T) {
	t.Parallel()
	store := newOperationStore()
	opID := uuid.New()
	store.register(newTransferOp(opID))

	failed := domain.StateFailed
	store.merge(OperationEvent{OperationID: opID, State: &failed, FailureReason: "peer vanished"})

	completed := domain.StateCompleted
	_, changed := store.merge(OperationEvent{OperationID: opID, State: &completed})
	if changed {
		t.Fatal("event after terminal state must be ignored")
	}
	op, _ := store.get(opID)
	if op.State != domain.StateFailed {
		t.Fatalf("state = %s, want failed", op.State)
	}
	if op.FailureReason != "peer vanished" {
		t.Fatalf("failure reason = %q", op.FailureReason)
	}
}

func TestMergeTransferProgressNeverMovesBackward(t *testing.T) {
	t.Parallel()
	store := newOperationStore()
	opID := uuid.New()
	store.register(newTransferOp(opID))

	store.merge(OperationEvent{
		OperationID: opID,
		Progress:    &domain.ProgressInfo{Current: 500, Total: u64(1000)},
	})
	store.merge(OperationEvent{
		OperationID: opID,
		Progress:    &domain.ProgressInfo{Current: 200, Total: u64(1000)},
	})

	op, _ := store.get(opID)
	if op.Progress.Current != 500 {
		t.Fatalf("current = %d, want clamped to 500", op.Progress.Current)
	}
}

func TestMergeStreamViewerCountMayShrink(t *testing.T) {
	t.Parallel()
	store := newOperationStore()
	opID := uuid.New()
	op := newTransferOp(opID)
	op.OperationType = domain.CameraStream
	store.register(op)

	store.merge(OperationEvent{OperationID: opID, Progress: &domain.ProgressInfo{Current: 3}})
	store.merge(OperationEvent{OperationID: opID, Progress: &domain.ProgressInfo{Current: 1}})

	got, _ := store.get(opID)
	if got.Progress.Current != 1 {
		t.Fatalf("viewer count = %d, want 1", got.Progress.Current)
	}
}

func TestCancelShieldsLateEvents(t *testing.T) {
	t.Parallel()
	store := newOperationStore()
	opID := uuid.New()
	store.register(newTransferOp(opID))

	if !store.cancel(opID) {
		t.Fatal("cancel of live operation failed")
	}
	completed := domain.StateCompleted
	if _, changed := store.merge(OperationEvent{OperationID: opID, State: &completed}); changed {
		t.Fatal("late collaborator event must not override cancellation")
	}
	op, _ := store.get(opID)
	if op.State != domain.StateCancelled {
		t.Fatalf("state = %s, want cancelled", op.State)
	}
	if store.cancel(opID) {
		t.Fatal("second cancel must report failure")
	}
}
