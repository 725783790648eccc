package handlers

import (
	"context"
	"os"

	"go.uber.org/zap"

	"kizuna/internal/domain"
	"kizuna/internal/platform/clock"
	"kizuna/internal/platform/id"
	apperrors "kizuna/internal/platform/errors"
	"kizuna/internal/security"
)

// SendRequest is what the transfer collaborator needs to move files.
type SendRequest struct {
	OperationID domain.OperationID
	Files       []string
	Peer        domain.PeerID
	Compression bool
	Encryption  bool
}

// ReceiveRequest opens an inbound listening window. Accept decides per
// offering peer.
type ReceiveRequest struct {
	OperationID domain.OperationID
	OutputDir   string
	Accept      func(peer domain.PeerID) bool
}

// TransferEvent is one progress report from the collaborator.
type TransferEvent struct {
	OperationID domain.OperationID
	State       *domain.OperationState
	Error       string
	Transferred uint64
	Total       *uint64
	Rate        *float64
	Message     string
}

// TransferEngine is the collaborator contract for file movement.
type TransferEngine interface {
	Send(ctx context.Context, req SendRequest) error
	Receive(ctx context.Context, req ReceiveRequest) error
	Cancel(ctx context.Context, opID domain.OperationID) error
	Events() <-chan TransferEvent
}

// TransferHandler adapts send/receive verbs onto the transfer collaborator
// and coalesces its progress events.
type TransferHandler struct {
	engine TransferEngine
	gate   *security.Gate
	clock  clock.Clock
	ids    id.Generator
	logger *zap.Logger

	store *operationStore
	notifier
}

func NewTransferHandler(engine TransferEngine, gate *security.Gate, clk clock.Clock, ids id.Generator, logger *zap.Logger) *TransferHandler {
	return &TransferHandler{
		engine: engine,
		gate:   gate,
		clock:  clk,
		ids:    ids,
		logger: logger,
		store:  newOperationStore(),
	}
}

// Run consumes the collaborator event stream until ctx is done. Merge-path
// errors never tear the handler down.
func (h *TransferHandler) Run(ctx context.Context) {
	events := h.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.apply(ev)
		}
	}
}

func (h *TransferHandler) apply(ev TransferEvent) {
	var progress *domain.ProgressInfo
	if ev.Transferred > 0 || ev.Total != nil || ev.Rate != nil || ev.Message != "" {
		progress = &domain.ProgressInfo{
			Current: ev.Transferred,
			Total:   ev.Total,
			Rate:    ev.Rate,
			Message: ev.Message,
		}
	}
	merged, changed := h.store.merge(OperationEvent{
		OperationID:   ev.OperationID,
		State:         ev.State,
		FailureReason: ev.Error,
		Progress:      progress,
	})
	if !changed {
		h.logger.Debug("dropped transfer event",
			zap.String("operation_id", ev.OperationID.String()))
		return
	}
	h.publish(merged)
}

// Send authorizes and initiates one transfer per (files, peer) request. It
// returns as soon as initiation is accepted; progress arrives via events.
func (h *TransferHandler) Send(ctx context.Context, files []string, peer domain.PeerID, compression, encryption bool) (domain.OperationStatus, error) {
	if err := h.gate.AuthorizeOperation(ctx, security.OpSend, peer); err != nil {
		return domain.OperationStatus{}, err
	}

	total := totalSize(files)
	op := domain.OperationStatus{
		OperationID:   h.ids.New(),
		OperationType: domain.FileTransfer,
		PeerID:        peer,
		State:         domain.StateStarting,
		Progress:      &domain.ProgressInfo{Total: &total},
		StartedAt:     h.clock.Now(),
	}
	h.store.register(op)

	err := h.engine.Send(ctx, SendRequest{
		OperationID: op.OperationID,
		Files:       files,
		Peer:        peer,
		Compression: compression,
		Encryption:  encryption,
	})
	if err != nil {
		failed := domain.StateFailed
		h.store.merge(OperationEvent{
			OperationID:   op.OperationID,
			State:         &failed,
			FailureReason: err.Error(),
		})
		return domain.OperationStatus{}, apperrors.Transfer(err.Error())
	}
	return op, nil
}

// Receive opens an inbound window. Every offer passes the gate, so blocked
// peers are refused outright. With autoAccept, offers are taken only from
// peers the gate reports Trusted; otherwise every remaining offer is
// surfaced for explicit confirmation by the caller's Accept hook.
func (h *TransferHandler) Receive(ctx context.Context, outputDir string, autoAccept bool) (domain.OperationStatus, error) {
	op := domain.OperationStatus{
		OperationID:   h.ids.New(),
		OperationType: domain.FileTransfer,
		State:         domain.StateStarting,
		StartedAt:     h.clock.Now(),
	}
	h.store.register(op)

	accept := func(peer domain.PeerID) bool {
		if err := h.gate.AuthorizeOperation(ctx, security.OpReceive, peer); err != nil {
			h.logger.Warn("receive offer denied", zap.String("peer", peer.String()), zap.Error(err))
			return false
		}
		if !autoAccept {
			return true
		}
		status, err := h.gate.TrustStatus(ctx, peer)
		if err != nil {
			h.logger.Warn("trust lookup during receive", zap.Error(err))
			return false
		}
		return status == domain.Trusted
	}
	err := h.engine.Receive(ctx, ReceiveRequest{
		OperationID: op.OperationID,
		OutputDir:   outputDir,
		Accept:      accept,
	})
	if err != nil {
		failed := domain.StateFailed
		h.store.merge(OperationEvent{
			OperationID:   op.OperationID,
			State:         &failed,
			FailureReason: err.Error(),
		})
		return domain.OperationStatus{}, apperrors.Transfer(err.Error())
	}
	return op, nil
}

// Cancel marks the operation Cancelled immediately and asks the collaborator
// to stop; the collaborator may take arbitrarily long, but the core treats
// the operation as terminal now.
func (h *TransferHandler) Cancel(ctx context.Context, opID domain.OperationID) error {
	if !h.store.cancel(opID) {
		return apperrors.Transfer("unknown or already finished operation: " + opID.String())
	}
	if op, ok := h.store.get(opID); ok {
		h.publish(op)
	}
	if err := h.engine.Cancel(ctx, opID); err != nil {
		h.logger.Warn("collaborator cancel", zap.Error(err))
	}
	return nil
}

// GetAllOperations snapshots current transfer operations.
func (h *TransferHandler) GetAllOperations() []domain.OperationStatus {
	return h.store.snapshot()
}

// GetOperation looks up one operation.
func (h *TransferHandler) GetOperation(opID domain.OperationID) (domain.OperationStatus, bool) {
	return h.store.get(opID)
}

// ActiveCount reports transfers currently in progress.
func (h *TransferHandler) ActiveCount() int {
	return h.store.countInState(domain.StateInProgress) + h.store.countInState(domain.StateStarting)
}

// CurrentBandwidth sums the rates of in-progress transfers in bytes/sec.
func (h *TransferHandler) CurrentBandwidth() float64 {
	var total float64
	for _, op := range h.store.snapshot() {
		if op.State == domain.StateInProgress && op.Progress != nil && op.Progress.Rate != nil {
			total += *op.Progress.Rate
		}
	}
	return total
}

func totalSize(files []string) uint64 {
	var total uint64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			total += uint64(info.Size())
		}
	}
	return total
}
