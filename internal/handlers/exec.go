package handlers

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"kizuna/internal/domain"
	"kizuna/internal/platform/clock"
	apperrors "kizuna/internal/platform/errors"
	"kizuna/internal/platform/id"
	"kizuna/internal/security"
)

// ExecResult is the remote command outcome.
type ExecResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Executor is the collaborator contract for running a command on a peer.
type Executor interface {
	Execute(ctx context.Context, peer domain.PeerID, command string) (ExecResult, error)
}

// ExecHandler runs commands on trusted peers with a hard timeout.
type ExecHandler struct {
	executor Executor
	gate     *security.Gate
	clock    clock.Clock
	ids      id.Generator
	logger   *zap.Logger

	store *operationStore
	notifier
}

func NewExecHandler(executor Executor, gate *security.Gate, clk clock.Clock, ids id.Generator, logger *zap.Logger) *ExecHandler {
	return &ExecHandler{
		executor: executor,
		gate:     gate,
		clock:    clk,
		ids:      ids,
		logger:   logger,
		store:    newOperationStore(),
	}
}

// Execute authorizes, runs the command, and blocks until completion or the
// timeout elapses. A timeout surfaces as an execution failure, not a crash.
func (h *ExecHandler) Execute(ctx context.Context, peer domain.PeerID, command string, timeout time.Duration) (ExecResult, error) {
	if err := h.gate.AuthorizeOperation(ctx, security.OpExec, peer); err != nil {
		return ExecResult{}, err
	}

	op := domain.OperationStatus{
		OperationID:   h.ids.New(),
		OperationType: domain.CommandExecution,
		PeerID:        peer,
		State:         domain.StateInProgress,
		Progress:      &domain.ProgressInfo{Message: command},
		StartedAt:     h.clock.Now(),
	}
	h.store.register(op)
	h.publish(op)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := h.clock.Now()
	result, err := h.executor.Execute(ctx, peer, command)
	result.Duration = h.clock.Now().Sub(start)

	state := domain.StateCompleted
	reason := ""
	if err != nil {
		state = domain.StateFailed
		reason = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "command timed out after " + timeout.String()
		}
	}
	h.store.merge(OperationEvent{
		OperationID:   op.OperationID,
		State:         &state,
		FailureReason: reason,
	})
	if final, ok := h.store.get(op.OperationID); ok {
		h.publish(final)
	}

	if err != nil {
		h.logger.Debug("remote execution failed",
			zap.String("peer", peer.String()), zap.Error(err))
		return result, apperrors.Execution(reason)
	}
	return result, nil
}

// GetAllOperations snapshots execution operations.
func (h *ExecHandler) GetAllOperations() []domain.OperationStatus {
	return h.store.snapshot()
}
