package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"kizuna/internal/domain"
	"kizuna/internal/handlers"
	"kizuna/internal/platform/clock"
	apperrors "kizuna/internal/platform/errors"
	"kizuna/internal/platform/id"
)

// DefaultConcurrency caps simultaneous scheduled transfers.
const DefaultConcurrency = 4

// reconcileInterval paces the snapshot sweep that recovers slots whose
// terminal update was dropped by the bounded subscriber channel.
const reconcileInterval = time.Second

// TransferStarter is what the scheduler needs from the transfer handler.
type TransferStarter interface {
	Send(ctx context.Context, files []string, peer domain.PeerID, compression, encryption bool) (domain.OperationStatus, error)
	Cancel(ctx context.Context, opID domain.OperationID) error
	Subscribe() <-chan domain.OperationStatus
	GetOperation(opID domain.OperationID) (domain.OperationStatus, bool)
}

// Scheduler owns the transfer queue: priority ordering, the concurrency cap,
// and persistence through the Store. All state transitions happen under one
// lock so a slot is never double-filled.
type Scheduler struct {
	store     *Store
	transfers TransferStarter
	clock     clock.Clock
	ids       id.Generator
	logger    *zap.Logger

	mu       sync.Mutex
	items    map[domain.QueueID]domain.QueueItem
	inFlight map[domain.OperationID]domain.QueueID
	capacity int
}

func NewScheduler(ctx context.Context, store *Store, transfers TransferStarter, clk clock.Clock, ids id.Generator, logger *zap.Logger, capacity int) (*Scheduler, error) {
	if capacity < 0 {
		capacity = DefaultConcurrency
	}
	s := &Scheduler{
		store:     store,
		transfers: transfers,
		clock:     clk,
		ids:       ids,
		logger:    logger,
		items:     map[domain.QueueID]domain.QueueItem{},
		inFlight:  map[domain.OperationID]domain.QueueID{},
		capacity:  capacity,
	}
	replayed, err := store.LoadAll(ctx)
	if err != nil {
		return nil, apperrors.Transfer("replay queue: " + err.Error())
	}
	for _, item := range replayed {
		s.items[item.QueueID] = item
	}
	return s, nil
}

// Run watches transfer completions and refills slots until ctx is done. The
// update channel is bounded and may drop under load, so a periodic sweep
// re-reads the transfer snapshot and releases any slot whose operation
// already finished.
func (s *Scheduler) Run(ctx context.Context) {
	updates := s.transfers.Subscribe()
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	s.fill(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcile(ctx)
			s.fill(ctx)
		case op, ok := <-updates:
			if !ok {
				return
			}
			if op.State.Terminal() {
				s.finish(ctx, op)
				s.fill(ctx)
			}
		}
	}
}

// reconcile finishes in-flight items whose transfer reached a terminal state
// without the update arriving on the channel.
func (s *Scheduler) reconcile(ctx context.Context) {
	s.mu.Lock()
	inFlight := make([]domain.OperationID, 0, len(s.inFlight))
	for opID := range s.inFlight {
		inFlight = append(inFlight, opID)
	}
	s.mu.Unlock()

	for _, opID := range inFlight {
		op, ok := s.transfers.GetOperation(opID)
		if !ok {
			op = domain.OperationStatus{
				OperationID:   opID,
				State:         domain.StateFailed,
				FailureReason: "transfer vanished",
			}
		}
		if op.State.Terminal() {
			s.finish(ctx, op)
		}
	}
}

// Enqueue persists a new pending item and tries to schedule immediately.
func (s *Scheduler) Enqueue(ctx context.Context, peer domain.PeerID, manifest domain.TransferManifest, priority domain.Priority) (domain.QueueItem, error) {
	item := domain.QueueItem{
		QueueID:    s.ids.New(),
		PeerID:     peer,
		Priority:   priority,
		State:      domain.QueuePending,
		EnqueuedAt: s.clock.Now(),
		Manifest:   manifest,
	}
	if err := s.store.Save(ctx, item); err != nil {
		return domain.QueueItem{}, apperrors.Transfer("persist queue item: " + err.Error())
	}
	s.mu.Lock()
	s.items[item.QueueID] = item
	s.mu.Unlock()

	s.fill(ctx)
	if updated, ok := s.Get(item.QueueID); ok {
		return updated, nil
	}
	return item, nil
}

// ScheduleNext claims one free slot for the best pending item. It returns
// the item it started and false when nothing was schedulable. With a zero
// capacity nothing ever schedules. The slot is reserved by marking the item
// Scheduled under the same lock that checks the active count, so concurrent
// callers never overcommit while a Send is still in flight.
func (s *Scheduler) ScheduleNext(ctx context.Context) (domain.QueueItem, bool) {
	s.mu.Lock()
	if s.capacity == 0 || s.activeLocked() >= s.capacity {
		s.mu.Unlock()
		return domain.QueueItem{}, false
	}
	best, ok := s.bestPendingLocked()
	if !ok {
		s.mu.Unlock()
		return domain.QueueItem{}, false
	}
	best.State = domain.QueueScheduled
	s.items[best.QueueID] = best
	s.mu.Unlock()

	if err := s.store.UpdateState(ctx, best.QueueID, domain.QueueScheduled, ""); err != nil {
		s.logger.Warn("persist scheduled state", zap.Error(err))
	}

	op, err := s.transfers.Send(ctx, best.Manifest.Files, best.PeerID, best.Manifest.Compression, best.Manifest.Encryption)
	if err != nil {
		s.setState(ctx, best.QueueID, domain.QueueFailed, err.Error())
		s.logger.Warn("queued transfer failed to start",
			zap.String("queue_id", best.QueueID.String()), zap.Error(err))
		item, _ := s.Get(best.QueueID)
		return item, true
	}

	s.mu.Lock()
	best = s.items[best.QueueID]
	best.State = domain.QueueRunning
	s.items[best.QueueID] = best
	s.inFlight[op.OperationID] = best.QueueID
	s.mu.Unlock()
	if err := s.store.UpdateState(ctx, best.QueueID, domain.QueueRunning, ""); err != nil {
		s.logger.Warn("persist running state", zap.Error(err))
	}
	return best, true
}

func (s *Scheduler) fill(ctx context.Context) {
	for {
		if _, scheduled := s.ScheduleNext(ctx); !scheduled {
			return
		}
	}
}

// activeLocked counts items holding a slot: claimed (Scheduled) or started
// (Running).
func (s *Scheduler) activeLocked() int {
	n := 0
	for _, item := range s.items {
		if item.State == domain.QueueScheduled || item.State == domain.QueueRunning {
			n++
		}
	}
	return n
}

// bestPendingLocked picks by priority descending, FIFO within a class.
func (s *Scheduler) bestPendingLocked() (domain.QueueItem, bool) {
	var best domain.QueueItem
	found := false
	for _, item := range s.items {
		if item.State != domain.QueuePending {
			continue
		}
		if !found || item.Before(best) {
			best = item
			found = true
		}
	}
	return best, found
}

func (s *Scheduler) finish(ctx context.Context, op domain.OperationStatus) {
	s.mu.Lock()
	queueID, ok := s.inFlight[op.OperationID]
	if ok {
		delete(s.inFlight, op.OperationID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	switch op.State {
	case domain.StateCompleted:
		s.setState(ctx, queueID, domain.QueueCompleted, "")
	case domain.StateCancelled:
		s.setState(ctx, queueID, domain.QueueCancelled, "")
	default:
		s.setState(ctx, queueID, domain.QueueFailed, op.FailureReason)
	}
}

// setState transitions a known item, skipping items already terminal.
func (s *Scheduler) setState(ctx context.Context, id domain.QueueID, state domain.QueueState, lastError string) {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok || item.State.Terminal() {
		s.mu.Unlock()
		return
	}
	item.State = state
	item.LastError = lastError
	s.items[id] = item
	s.mu.Unlock()
	if err := s.store.UpdateState(ctx, id, state, lastError); err != nil {
		s.logger.Warn("persist queue state", zap.Error(err))
	}
}

// Pause stops a pending or running item. A running item's transfer is
// cancelled; resuming re-enters the queue from the start.
func (s *Scheduler) Pause(ctx context.Context, id domain.QueueID) error {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.Transfer("unknown queue item: " + id.String())
	}
	if item.State != domain.QueuePending && item.State != domain.QueueRunning {
		s.mu.Unlock()
		return apperrors.Transfer("queue item is " + string(item.State) + ", cannot pause")
	}
	wasRunning := item.State == domain.QueueRunning
	item.State = domain.QueuePaused
	s.items[id] = item
	var opID domain.OperationID
	if wasRunning {
		for op, qid := range s.inFlight {
			if qid == id {
				opID = op
				delete(s.inFlight, op)
				break
			}
		}
	}
	s.mu.Unlock()

	if wasRunning && opID != (domain.OperationID{}) {
		if err := s.transfers.Cancel(ctx, opID); err != nil {
			s.logger.Warn("cancel running transfer for pause", zap.Error(err))
		}
	}
	if err := s.store.UpdateState(ctx, id, domain.QueuePaused, item.LastError); err != nil {
		s.logger.Warn("persist paused state", zap.Error(err))
	}
	s.fill(ctx)
	return nil
}

// Resume returns a paused item to pending and tries to schedule.
func (s *Scheduler) Resume(ctx context.Context, id domain.QueueID) error {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.Transfer("unknown queue item: " + id.String())
	}
	if item.State != domain.QueuePaused {
		s.mu.Unlock()
		return apperrors.Transfer("queue item is " + string(item.State) + ", cannot resume")
	}
	item.State = domain.QueuePending
	s.items[id] = item
	s.mu.Unlock()
	if err := s.store.UpdateState(ctx, id, domain.QueuePending, item.LastError); err != nil {
		s.logger.Warn("persist pending state", zap.Error(err))
	}
	s.fill(ctx)
	return nil
}

// Cancel drops a non-terminal item, cancelling its transfer if running.
func (s *Scheduler) Cancel(ctx context.Context, id domain.QueueID) error {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.Transfer("unknown queue item: " + id.String())
	}
	if item.State.Terminal() {
		s.mu.Unlock()
		return apperrors.Transfer("queue item already finished: " + id.String())
	}
	var opID domain.OperationID
	for op, qid := range s.inFlight {
		if qid == id {
			opID = op
			delete(s.inFlight, op)
			break
		}
	}
	item.State = domain.QueueCancelled
	s.items[id] = item
	s.mu.Unlock()

	if opID != (domain.OperationID{}) {
		if err := s.transfers.Cancel(ctx, opID); err != nil {
			s.logger.Warn("cancel running transfer", zap.Error(err))
		}
	}
	if err := s.store.UpdateState(ctx, id, domain.QueueCancelled, ""); err != nil {
		s.logger.Warn("persist cancelled state", zap.Error(err))
	}
	s.fill(ctx)
	return nil
}

// ChangePriority reorders a non-terminal item.
func (s *Scheduler) ChangePriority(ctx context.Context, id domain.QueueID, priority domain.Priority) error {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.Transfer("unknown queue item: " + id.String())
	}
	if item.State.Terminal() {
		s.mu.Unlock()
		return apperrors.Transfer("queue item already finished: " + id.String())
	}
	item.Priority = priority
	s.items[id] = item
	s.mu.Unlock()
	if err := s.store.UpdatePriority(ctx, id, priority); err != nil {
		return apperrors.Transfer("persist priority: " + err.Error())
	}
	return nil
}

// SetCapacity adjusts the concurrency cap at runtime; shrinking never
// interrupts transfers already running.
func (s *Scheduler) SetCapacity(ctx context.Context, n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	s.capacity = n
	s.mu.Unlock()
	s.fill(ctx)
}

// Get looks up one item.
func (s *Scheduler) Get(id domain.QueueID) (domain.QueueItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return item, ok
}

// List snapshots items in scheduling order.
func (s *Scheduler) List() []domain.QueueItem {
	s.mu.Lock()
	out := make([]domain.QueueItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Stats tallies items per state.
func (s *Scheduler) Stats() handlers.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st handlers.QueueStats
	for _, item := range s.items {
		switch item.State {
		case domain.QueuePending:
			st.Pending++
		case domain.QueuePaused:
			st.Paused++
		case domain.QueueScheduled:
			st.Scheduled++
		case domain.QueueRunning:
			st.Running++
		case domain.QueueCompleted:
			st.Completed++
		case domain.QueueFailed:
			st.Failed++
		case domain.QueueCancelled:
			st.Cancelled++
		}
	}
	return st
}
