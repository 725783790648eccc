package handlers

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"kizuna/internal/domain"
	"kizuna/internal/platform/clock"
	apperrors "kizuna/internal/platform/errors"
	"kizuna/internal/platform/id"
	"kizuna/internal/security"
)

// ClipboardSyncer is the collaborator contract for clipboard exchange.
// Sync blocks until ctx is done, pushing a count of synced updates through
// the returned channel.
type ClipboardSyncer interface {
	Push(ctx context.Context, peer domain.PeerID) error
	Pull(ctx context.Context, peer domain.PeerID) (string, error)
	Sync(ctx context.Context, peer domain.PeerID) (<-chan int, error)
}

// ClipboardHandler drives one-shot and continuous clipboard exchange.
type ClipboardHandler struct {
	syncer ClipboardSyncer
	gate   *security.Gate
	clock  clock.Clock
	ids    id.Generator
	logger *zap.Logger

	store *operationStore
	notifier

	mu      sync.Mutex
	cancels map[domain.OperationID]context.CancelFunc
}

func NewClipboardHandler(syncer ClipboardSyncer, gate *security.Gate, clk clock.Clock, ids id.Generator, logger *zap.Logger) *ClipboardHandler {
	return &ClipboardHandler{
		syncer:  syncer,
		gate:    gate,
		clock:   clk,
		ids:     ids,
		logger:  logger,
		store:   newOperationStore(),
		cancels: map[domain.OperationID]context.CancelFunc{},
	}
}

// Send pushes the local clipboard to a peer.
func (h *ClipboardHandler) Send(ctx context.Context, peer domain.PeerID) error {
	if err := h.gate.AuthorizeOperation(ctx, security.OpClipboard, peer); err != nil {
		return err
	}
	if err := h.syncer.Push(ctx, peer); err != nil {
		return apperrors.Clipboard(err.Error())
	}
	return nil
}

// Get fetches the peer's clipboard content.
func (h *ClipboardHandler) Get(ctx context.Context, peer domain.PeerID) (string, error) {
	if err := h.gate.AuthorizeOperation(ctx, security.OpClipboard, peer); err != nil {
		return "", err
	}
	content, err := h.syncer.Pull(ctx, peer)
	if err != nil {
		return "", apperrors.Clipboard(err.Error())
	}
	return content, nil
}

// Watch runs continuous bidirectional sync until ctx is cancelled. The
// returned operation tracks the session; Progress.Current counts updates.
func (h *ClipboardHandler) Watch(ctx context.Context, peer domain.PeerID) (domain.OperationStatus, error) {
	if err := h.gate.AuthorizeOperation(ctx, security.OpClipboard, peer); err != nil {
		return domain.OperationStatus{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	updates, err := h.syncer.Sync(ctx, peer)
	if err != nil {
		cancel()
		return domain.OperationStatus{}, apperrors.Clipboard(err.Error())
	}

	op := domain.OperationStatus{
		OperationID:   h.ids.New(),
		OperationType: domain.ClipboardSync,
		PeerID:        peer,
		State:         domain.StateInProgress,
		Progress:      &domain.ProgressInfo{Message: "updates"},
		StartedAt:     h.clock.Now(),
	}
	h.store.register(op)
	h.publish(op)
	h.mu.Lock()
	h.cancels[op.OperationID] = cancel
	h.mu.Unlock()

	go h.consume(ctx, op.OperationID, updates)
	return op, nil
}

// StopAll cancels every live sync session and reports how many it stopped.
func (h *ClipboardHandler) StopAll() int {
	h.mu.Lock()
	n := len(h.cancels)
	for id, cancel := range h.cancels {
		cancel()
		delete(h.cancels, id)
	}
	h.mu.Unlock()
	return n
}

func (h *ClipboardHandler) consume(ctx context.Context, opID domain.OperationID, updates <-chan int) {
	defer func() {
		h.mu.Lock()
		delete(h.cancels, opID)
		h.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			state := domain.StateCancelled
			if merged, changed := h.store.merge(OperationEvent{OperationID: opID, State: &state}); changed {
				h.publish(merged)
			}
			return
		case n, ok := <-updates:
			if !ok {
				state := domain.StateCompleted
				if merged, changed := h.store.merge(OperationEvent{OperationID: opID, State: &state}); changed {
					h.publish(merged)
				}
				return
			}
			merged, changed := h.store.merge(OperationEvent{
				OperationID: opID,
				Progress:    &domain.ProgressInfo{Current: uint64(n), Message: "updates"},
			})
			if changed {
				h.publish(merged)
			} else {
				h.logger.Debug("dropped clipboard update",
					zap.String("operation_id", opID.String()))
			}
		}
	}
}

// GetAllOperations snapshots clipboard sync sessions.
func (h *ClipboardHandler) GetAllOperations() []domain.OperationStatus {
	return h.store.snapshot()
}
