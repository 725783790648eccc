package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueID identifies a persisted transfer queue entry.
type QueueID = uuid.UUID

// Priority orders pending queue items. Higher values schedule first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	}
	return "normal"
}

// ParsePriority maps a user token to a Priority; unknown tokens report ok=false.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "normal", "":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "urgent":
		return PriorityUrgent, true
	}
	return PriorityNormal, false
}

// QueueState follows Pending → Scheduled → Running → terminal, with Paused
// reachable from Pending and Running and resumable back to Pending.
type QueueState string

const (
	QueuePending   QueueState = "pending"
	QueueScheduled QueueState = "scheduled"
	QueueRunning   QueueState = "running"
	QueuePaused    QueueState = "paused"
	QueueCompleted QueueState = "completed"
	QueueFailed    QueueState = "failed"
	QueueCancelled QueueState = "cancelled"
)

func (s QueueState) Terminal() bool {
	switch s {
	case QueueCompleted, QueueFailed, QueueCancelled:
		return true
	}
	return false
}

// TransferManifest describes what a queued transfer will move.
type TransferManifest struct {
	Files       []string `json:"files"`
	TotalBytes  uint64   `json:"total_bytes"`
	Compression bool     `json:"compression"`
	Encryption  bool     `json:"encryption"`
}

// QueueItem wraps one pending transfer request.
type QueueItem struct {
	QueueID    QueueID          `json:"queue_id"`
	PeerID     PeerID           `json:"peer_id"`
	Priority   Priority         `json:"priority"`
	State      QueueState       `json:"state"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
	Manifest   TransferManifest `json:"manifest"`
	LastError  string           `json:"last_error,omitempty"`
}

// Before reports whether a schedules ahead of b: priority descending, then
// enqueue time ascending (FIFO within a priority class).
func (a QueueItem) Before(b QueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}
