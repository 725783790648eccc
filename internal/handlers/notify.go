package handlers

import (
	"sync"

	"kizuna/internal/domain"
)

const notifyBuffer = 64

// notifier fans operation updates out to observers (CLI watch mode, TUI).
// Sends never block: a full subscriber simply misses the update and catches
// up from the next snapshot.
type notifier struct {
	mu   sync.Mutex
	subs []chan domain.OperationStatus
}

// Subscribe returns a bounded channel of operation updates.
func (n *notifier) Subscribe() <-chan domain.OperationStatus {
	ch := make(chan domain.OperationStatus, notifyBuffer)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}

func (n *notifier) publish(op domain.OperationStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- op:
		default:
		}
	}
}
