package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchID identifies one (files × peers) fan-out submission.
type BatchID = uuid.UUID

// BatchOperationItem is the per-(file, peer) cell of a batch.
type BatchOperationItem struct {
	OperationID OperationID    `json:"operation_id"`
	File        string         `json:"file"`
	PeerID      PeerID         `json:"peer_id"`
	State       OperationState `json:"state"`
	Error       string         `json:"error,omitempty"`
}

// BatchStatus tracks a whole submission. CompletedAt is set exactly once,
// when every item is terminal.
type BatchStatus struct {
	BatchID     BatchID              `json:"batch_id"`
	Operations  []BatchOperationItem `json:"operations"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// BatchProgress is a point-in-time tally over a batch.
type BatchProgress struct {
	BatchID         BatchID `json:"batch_id"`
	TotalOperations int     `json:"total_operations"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Cancelled       int     `json:"cancelled"`
	InFlight        int     `json:"in_flight"`
	OverallProgress float64 `json:"overall_progress"`
}

// CLISession is the authenticated lifetime of an invocation.
type CLISession struct {
	SessionID uuid.UUID `json:"session_id"`
	DeviceID  PeerID    `json:"device_id"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the session is usable at the given instant.
func (s CLISession) Valid(now time.Time) bool {
	return s.SessionID != uuid.Nil && now.Before(s.ExpiresAt)
}
