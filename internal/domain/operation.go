package domain

import (
	"time"

	"github.com/google/uuid"
)

// OperationID identifies one long-running action.
type OperationID = uuid.UUID

type OperationType string

const (
	FileTransfer     OperationType = "file_transfer"
	CameraStream     OperationType = "camera_stream"
	CommandExecution OperationType = "command_execution"
	ClipboardSync    OperationType = "clipboard_sync"
)

// OperationState follows Starting → InProgress → {Completed|Failed|Cancelled}.
type OperationState string

const (
	StateStarting   OperationState = "starting"
	StateInProgress OperationState = "in_progress"
	StateCompleted  OperationState = "completed"
	StateFailed     OperationState = "failed"
	StateCancelled  OperationState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s OperationState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// ProgressInfo is a point-in-time progress report. Rate is bytes per second
// for transfers and viewer count deltas are expressed through Current for
// streams.
type ProgressInfo struct {
	Current uint64         `json:"current"`
	Total   *uint64        `json:"total,omitempty"`
	Rate    *float64       `json:"rate,omitempty"`
	ETA     *time.Duration `json:"eta,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (p ProgressInfo) Percent() float64 {
	if p.Total == nil || *p.Total == 0 {
		return -1
	}
	pct := float64(p.Current) / float64(*p.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// OperationStatus is the coalesced current state of one operation.
type OperationStatus struct {
	OperationID         OperationID    `json:"operation_id"`
	OperationType       OperationType  `json:"operation_type"`
	PeerID              PeerID         `json:"peer_id"`
	State               OperationState `json:"state"`
	FailureReason       string         `json:"failure_reason,omitempty"`
	Progress            *ProgressInfo  `json:"progress,omitempty"`
	StartedAt           time.Time      `json:"started_at"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
}
