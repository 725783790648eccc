package handlers

import (
	"time"

	"kizuna/internal/domain"
	"kizuna/internal/platform/clock"
)

// OperationSource is anything that can report its live operations. Every
// handler with an operation store satisfies it.
type OperationSource interface {
	GetAllOperations() []domain.OperationStatus
}

// QueueStats mirrors the scheduler's view of queued work.
type QueueStats struct {
	Pending   int `json:"pending"`
	Paused    int `json:"paused"`
	Scheduled int `json:"scheduled"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// QueueReporter is satisfied by the transfer queue scheduler.
type QueueReporter interface {
	Stats() QueueStats
}

// SessionReporter is satisfied by the security gate.
type SessionReporter interface {
	IsSessionValid() bool
}

// BandwidthReporter is satisfied by the transfer handler.
type BandwidthReporter interface {
	CurrentBandwidth() float64
}

// SystemStatus is the aggregated view backing the status verb and the TUI
// header.
type SystemStatus struct {
	PeersOnline      int                      `json:"peers_online"`
	PeersTrusted     int                      `json:"peers_trusted"`
	ActiveOperations []domain.OperationStatus `json:"active_operations"`
	CompletedToday   int                      `json:"completed_today"`
	FailedToday      int                      `json:"failed_today"`
	Queue            QueueStats               `json:"queue"`
	SessionValid     bool                     `json:"session_valid"`
	BandwidthBps     float64                  `json:"bandwidth_bps"`
}

// StatusHandler assembles SystemStatus from the other handlers. It holds no
// state of its own; every call re-reads live snapshots.
type StatusHandler struct {
	discover  *DiscoverHandler
	sources   []OperationSource
	queue     QueueReporter
	session   SessionReporter
	bandwidth BandwidthReporter
	clock     clock.Clock
}

func NewStatusHandler(discover *DiscoverHandler, queue QueueReporter, session SessionReporter, bandwidth BandwidthReporter, clk clock.Clock, sources ...OperationSource) *StatusHandler {
	return &StatusHandler{
		discover:  discover,
		sources:   sources,
		queue:     queue,
		session:   session,
		bandwidth: bandwidth,
		clock:     clk,
	}
}

// Snapshot assembles the current system status.
func (h *StatusHandler) Snapshot() SystemStatus {
	st := SystemStatus{SessionValid: h.session.IsSessionValid()}

	for _, peer := range h.discover.GetCachedPeers() {
		if peer.ConnectionStatus == domain.Connected {
			st.PeersOnline++
		}
		if peer.TrustStatus == domain.Trusted {
			st.PeersTrusted++
		}
	}

	midnight := h.clock.Now().Truncate(24 * time.Hour)
	for _, src := range h.sources {
		for _, op := range src.GetAllOperations() {
			switch {
			case !op.State.Terminal():
				st.ActiveOperations = append(st.ActiveOperations, op)
			case op.State == domain.StateCompleted && op.StartedAt.After(midnight):
				st.CompletedToday++
			case op.State == domain.StateFailed && op.StartedAt.After(midnight):
				st.FailedToday++
			}
		}
	}

	if h.queue != nil {
		st.Queue = h.queue.Stats()
	}
	if h.bandwidth != nil {
		st.BandwidthBps = h.bandwidth.CurrentBandwidth()
	}
	return st
}
