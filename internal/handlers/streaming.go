package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kizuna/internal/domain"
	"kizuna/internal/platform/clock"
	apperrors "kizuna/internal/platform/errors"
	"kizuna/internal/platform/id"
	"kizuna/internal/security"
)

// StreamState is the collaborator's view of a stream lifecycle.
type StreamState string

const (
	StreamStarting StreamState = "starting"
	StreamActive   StreamState = "active"
	StreamPaused   StreamState = "paused"
	StreamStopped  StreamState = "stopped"
	StreamError    StreamState = "error"
)

// StreamEvent is one update from the streaming collaborator. ViewerCount is
// absolute, not a delta.
type StreamEvent struct {
	StreamID    domain.OperationID
	State       StreamState
	ViewerCount int
	Error       string
}

// StreamConfig describes the requested capture session.
type StreamConfig struct {
	StreamID domain.OperationID
	Quality  string
	Record   bool
	SavePath string
}

// Streamer is the collaborator contract for camera capture and delivery.
type Streamer interface {
	StartStream(ctx context.Context, cfg StreamConfig) error
	PauseStream(ctx context.Context, streamID domain.OperationID) error
	ResumeStream(ctx context.Context, streamID domain.OperationID) error
	StopStream(ctx context.Context, streamID domain.OperationID) error
	AddViewer(ctx context.Context, streamID domain.OperationID, peer domain.PeerID) error
	RemoveViewer(ctx context.Context, streamID domain.OperationID, peer domain.PeerID) error
	Events() <-chan StreamEvent
}

// StreamingHandler manages camera stream sessions. Viewer counts ride in
// Progress.Current so the generic operation plumbing renders them.
type StreamingHandler struct {
	streamer Streamer
	gate     *security.Gate
	clock    clock.Clock
	ids      id.Generator
	logger   *zap.Logger

	store *operationStore
	notifier
}

func NewStreamingHandler(streamer Streamer, gate *security.Gate, clk clock.Clock, ids id.Generator, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{
		streamer: streamer,
		gate:     gate,
		clock:    clk,
		ids:      ids,
		logger:   logger,
		store:    newOperationStore(),
	}
}

// Run consumes collaborator events until ctx is done.
func (h *StreamingHandler) Run(ctx context.Context) {
	events := h.streamer.Events()
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

func (h *StreamingHandler) apply(ev StreamEvent) {
	state := mapStreamState(ev.State)
	viewers := uint64(ev.ViewerCount)
	merged, changed := h.store.merge(OperationEvent{
		OperationID:   ev.StreamID,
		State:         &state,
		FailureReason: ev.Error,
		Progress:      &domain.ProgressInfo{Current: viewers, Message: "viewers"},
	})
	if !changed {
		h.logger.Debug("dropped stream event",
			zap.String("stream_id", ev.StreamID.String()))
		return
	}
	h.publish(merged)
}

// mapStreamState folds collaborator states onto the shared lifecycle. A
// paused stream is still an operation in progress.
func mapStreamState(s StreamState) domain.OperationState {
	switch s {
	case StreamStarting:
		return domain.StateStarting
	case StreamActive, StreamPaused:
		return domain.StateInProgress
	case StreamStopped:
		return domain.StateCompleted
	case StreamError:
		return domain.StateFailed
	}
	return domain.StateInProgress
}

// StreamURL is the shareable address viewers connect to.
func StreamURL(streamID domain.OperationID) string {
	return fmt.Sprintf("kizuna://stream/%s", streamID)
}

// Start begins a capture session and returns its operation plus share URL.
func (h *StreamingHandler) Start(ctx context.Context, quality string, record bool, savePath string) (domain.OperationStatus, string, error) {
	if !domain.ValidStreamQuality(quality) {
		return domain.OperationStatus{}, "", apperrors.InvalidArgumentValue("quality", quality)
	}
	op := domain.OperationStatus{
		OperationID:   h.ids.New(),
		OperationType: domain.CameraStream,
		State:         domain.StateStarting,
		Progress:      &domain.ProgressInfo{Current: 0, Message: "viewers"},
		StartedAt:     h.clock.Now(),
	}
	h.store.register(op)

	err := h.streamer.StartStream(ctx, StreamConfig{
		StreamID: op.OperationID,
		Quality:  quality,
		Record:   record,
		SavePath: savePath,
	})
	if err != nil {
		failed := domain.StateFailed
		h.store.merge(OperationEvent{
			OperationID:   op.OperationID,
			State:         &failed,
			FailureReason: err.Error(),
		})
		return domain.OperationStatus{}, "", apperrors.Streaming(err.Error())
	}
	return op, StreamURL(op.OperationID), nil
}

// Pause suspends capture without ending the session.
func (h *StreamingHandler) Pause(ctx context.Context, streamID domain.OperationID) error {
	if err := h.requireLive(streamID); err != nil {
		return err
	}
	if err := h.streamer.PauseStream(ctx, streamID); err != nil {
		return apperrors.Streaming(err.Error())
	}
	return nil
}

// Resume restarts a paused stream.
func (h *StreamingHandler) Resume(ctx context.Context, streamID domain.OperationID) error {
	if err := h.requireLive(streamID); err != nil {
		return err
	}
	if err := h.streamer.ResumeStream(ctx, streamID); err != nil {
		return apperrors.Streaming(err.Error())
	}
	return nil
}

// Stop ends the session. The terminal state lands via the event stream.
func (h *StreamingHandler) Stop(ctx context.Context, streamID domain.OperationID) error {
	if err := h.requireLive(streamID); err != nil {
		return err
	}
	if err := h.streamer.StopStream(ctx, streamID); err != nil {
		return apperrors.Streaming(err.Error())
	}
	return nil
}

// AddViewer authorizes and admits a peer to the stream.
func (h *StreamingHandler) AddViewer(ctx context.Context, streamID domain.OperationID, peer domain.PeerID) error {
	if err := h.requireLive(streamID); err != nil {
		return err
	}
	if err := h.gate.AuthorizeOperation(ctx, security.OpViewerAdd, peer); err != nil {
		return err
	}
	if err := h.streamer.AddViewer(ctx, streamID, peer); err != nil {
		return apperrors.Streaming(err.Error())
	}
	return nil
}

// RemoveViewer drops a peer from the stream.
func (h *StreamingHandler) RemoveViewer(ctx context.Context, streamID domain.OperationID, peer domain.PeerID) error {
	if err := h.requireLive(streamID); err != nil {
		return err
	}
	if err := h.streamer.RemoveViewer(ctx, streamID, peer); err != nil {
		return apperrors.Streaming(err.Error())
	}
	return nil
}

// GetAllOperations snapshots current stream operations.
func (h *StreamingHandler) GetAllOperations() []domain.OperationStatus {
	return h.store.snapshot()
}

// GetOperation looks up one stream.
func (h *StreamingHandler) GetOperation(streamID domain.OperationID) (domain.OperationStatus, bool) {
	return h.store.get(streamID)
}

// ActiveCount reports streams currently live.
func (h *StreamingHandler) ActiveCount() int {
	return h.store.countInState(domain.StateInProgress) + h.store.countInState(domain.StateStarting)
}

func (h *StreamingHandler) requireLive(streamID domain.OperationID) error {
	op, ok := h.store.get(streamID)
	if !ok {
		return apperrors.Streaming("unknown stream: " + streamID.String())
	}
	if op.State.Terminal() {
		return apperrors.Streaming("stream already ended: " + streamID.String())
	}
	return nil
}
