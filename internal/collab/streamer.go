package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"kizuna/internal/domain"
	"kizuna/internal/handlers"
)

// SimStreamer simulates a camera capture session: it emits lifecycle events
// and keeps a viewer roster, standing in for a media pipeline.
type SimStreamer struct {
	mu      sync.Mutex
	streams map[domain.OperationID]*simStream
	events  chan handlers.StreamEvent
}

type simStream struct {
	paused  bool
	viewers map[domain.PeerID]struct{}
	cancel  context.CancelFunc
}

func NewSimStreamer() *SimStreamer {
	return &SimStreamer{
		streams: map[domain.OperationID]*simStream{},
		events:  make(chan handlers.StreamEvent, 64),
	}
}

func (s *SimStreamer) Events() <-chan handlers.StreamEvent { return s.events }

func (s *SimStreamer) StartStream(ctx context.Context, cfg handlers.StreamConfig) error {
	runCtx, cancel := context.WithCancel(ctx)
	stream := &simStream{viewers: map[domain.PeerID]struct{}{}, cancel: cancel}
	s.mu.Lock()
	s.streams[cfg.StreamID] = stream
	s.mu.Unlock()

	s.events <- handlers.StreamEvent{StreamID: cfg.StreamID, State: handlers.StreamStarting}
	go func() {
		// Capture "warms up" briefly, then goes live.
		select {
		case <-runCtx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
		s.emit(cfg.StreamID, handlers.StreamActive)
		<-runCtx.Done()
	}()
	return nil
}

func (s *SimStreamer) emit(streamID domain.OperationID, state handlers.StreamState) {
	s.mu.Lock()
	stream, ok := s.streams[streamID]
	viewers := 0
	if ok {
		viewers = len(stream.viewers)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.events <- handlers.StreamEvent{StreamID: streamID, State: state, ViewerCount: viewers}
}

func (s *SimStreamer) PauseStream(_ context.Context, streamID domain.OperationID) error {
	s.mu.Lock()
	stream, ok := s.streams[streamID]
	if ok {
		stream.paused = true
	}
	s.mu.Unlock()
	if !ok {
		return errors.New("unknown stream")
	}
	s.emit(streamID, handlers.StreamPaused)
	return nil
}

func (s *SimStreamer) ResumeStream(_ context.Context, streamID domain.OperationID) error {
	s.mu.Lock()
	stream, ok := s.streams[streamID]
	if ok {
		stream.paused = false
	}
	s.mu.Unlock()
	if !ok {
		return errors.New("unknown stream")
	}
	s.emit(streamID, handlers.StreamActive)
	return nil
}

func (s *SimStreamer) StopStream(_ context.Context, streamID domain.OperationID) error {
	s.mu.Lock()
	stream, ok := s.streams[streamID]
	if ok {
		delete(s.streams, streamID)
	}
	s.mu.Unlock()
	if !ok {
		return errors.New("unknown stream")
	}
	stream.cancel()
	s.events <- handlers.StreamEvent{StreamID: streamID, State: handlers.StreamStopped}
	return nil
}

func (s *SimStreamer) AddViewer(_ context.Context, streamID domain.OperationID, peer domain.PeerID) error {
	s.mu.Lock()
	stream, ok := s.streams[streamID]
	if ok {
		stream.viewers[peer] = struct{}{}
	}
	s.mu.Unlock()
	if !ok {
		return errors.New("unknown stream")
	}
	s.emit(streamID, s.stateOf(streamID))
	return nil
}

func (s *SimStreamer) RemoveViewer(_ context.Context, streamID domain.OperationID, peer domain.PeerID) error {
	s.mu.Lock()
	stream, ok := s.streams[streamID]
	if ok {
		delete(stream.viewers, peer)
	}
	s.mu.Unlock()
	if !ok {
		return errors.New("unknown stream")
	}
	s.emit(streamID, s.stateOf(streamID))
	return nil
}

func (s *SimStreamer) stateOf(streamID domain.OperationID) handlers.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stream, ok := s.streams[streamID]; ok && stream.paused {
		return handlers.StreamPaused
	}
	return handlers.StreamActive
}
