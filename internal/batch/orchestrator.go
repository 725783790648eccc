package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"kizuna/internal/domain"
	"kizuna/internal/platform/clock"
	apperrors "kizuna/internal/platform/errors"
	"kizuna/internal/platform/id"
)

// DefaultParallelism caps concurrent sends in parallel mode.
const DefaultParallelism = 4

// Mode selects how a batch walks its (file, peer) cells.
type Mode string

const (
	Sequential Mode = "sequential"
	Parallel   Mode = "parallel"
)

// Sender is what the orchestrator needs from the transfer handler. Each call
// covers one (file, peer) cell and blocks until that cell finishes.
type Sender interface {
	SendAndWait(ctx context.Context, file string, peer domain.PeerID) error
}

// Request is one batch submission.
type Request struct {
	Files       []string
	Peers       []domain.PeerID
	Mode        Mode
	Parallelism int
}

// Orchestrator fans (files × peers) out over the transfer handler, tracks
// per-cell outcomes, and supports mid-flight cancellation.
type Orchestrator struct {
	sender Sender
	clock  clock.Clock
	ids    id.Generator
	logger *zap.Logger

	mu      sync.RWMutex
	batches map[domain.BatchID]*batchRun
}

type batchRun struct {
	status domain.BatchStatus
	cancel context.CancelFunc
}

func NewOrchestrator(sender Sender, clk clock.Clock, ids id.Generator, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		sender:  sender,
		clock:   clk,
		ids:     ids,
		logger:  logger,
		batches: map[domain.BatchID]*batchRun{},
	}
}

// Submit starts the fan-out and returns immediately with the batch id. A
// batch with no cells completes on the spot.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (domain.BatchStatus, error) {
	if req.Mode != Sequential && req.Mode != Parallel {
		return domain.BatchStatus{}, apperrors.Batch("unknown batch mode: " + string(req.Mode))
	}
	parallelism := req.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	status := domain.BatchStatus{
		BatchID:   o.ids.New(),
		StartedAt: o.clock.Now(),
	}
	for _, file := range req.Files {
		for _, peer := range req.Peers {
			status.Operations = append(status.Operations, domain.BatchOperationItem{
				OperationID: o.ids.New(),
				File:        file,
				PeerID:      peer,
				State:       domain.StateStarting,
			})
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &batchRun{status: status, cancel: cancel}
	o.mu.Lock()
	o.batches[status.BatchID] = run
	o.mu.Unlock()

	if len(status.Operations) == 0 {
		// Nothing ran, so completion coincides with the start.
		done := status.StartedAt
		o.mu.Lock()
		run.status.CompletedAt = &done
		o.mu.Unlock()
		cancel()
		return o.snapshot(status.BatchID), nil
	}

	go o.execute(runCtx, status.BatchID, req.Mode, parallelism)
	return o.snapshot(status.BatchID), nil
}

func (o *Orchestrator) execute(ctx context.Context, batchID domain.BatchID, mode Mode, parallelism int) {
	cells := o.snapshot(batchID).Operations

	if mode == Sequential {
		for i := range cells {
			o.runCell(ctx, batchID, cells[i].OperationID)
		}
	} else {
		sem := semaphore.NewWeighted(int64(parallelism))
		var wg sync.WaitGroup
		for i := range cells {
			opID := cells[i].OperationID
			if err := sem.Acquire(ctx, 1); err != nil {
				o.markCell(batchID, opID, domain.StateCancelled, "")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				o.runCell(ctx, batchID, opID)
			}()
		}
		wg.Wait()
	}

	now := o.clock.Now()
	o.mu.Lock()
	if run, ok := o.batches[batchID]; ok && run.status.CompletedAt == nil {
		run.status.CompletedAt = &now
	}
	o.mu.Unlock()
	o.logger.Debug("batch finished", zap.String("batch_id", batchID.String()))
}

func (o *Orchestrator) runCell(ctx context.Context, batchID domain.BatchID, opID domain.OperationID) {
	cell, ok := o.cell(batchID, opID)
	if !ok || cell.State.Terminal() {
		return
	}
	if ctx.Err() != nil {
		o.markCell(batchID, opID, domain.StateCancelled, "")
		return
	}
	o.markCell(batchID, opID, domain.StateInProgress, "")

	err := o.sender.SendAndWait(ctx, cell.File, cell.PeerID)
	switch {
	case err == nil:
		o.markCell(batchID, opID, domain.StateCompleted, "")
	case ctx.Err() != nil:
		o.markCell(batchID, opID, domain.StateCancelled, "")
	default:
		o.markCell(batchID, opID, domain.StateFailed, err.Error())
	}
}

func (o *Orchestrator) cell(batchID domain.BatchID, opID domain.OperationID) (domain.BatchOperationItem, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	run, ok := o.batches[batchID]
	if !ok {
		return domain.BatchOperationItem{}, false
	}
	for _, item := range run.status.Operations {
		if item.OperationID == opID {
			return item, true
		}
	}
	return domain.BatchOperationItem{}, false
}

func (o *Orchestrator) markCell(batchID domain.BatchID, opID domain.OperationID, state domain.OperationState, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.batches[batchID]
	if !ok {
		return
	}
	for i := range run.status.Operations {
		item := &run.status.Operations[i]
		if item.OperationID != opID || item.State.Terminal() {
			continue
		}
		item.State = state
		item.Error = reason
	}
}

// Cancel stops the remaining cells of a running batch. Cells already
// terminal keep their outcome; the rest are marked cancelled and the
// batch is stamped complete before Cancel returns, so callers observe
// the final shape immediately.
func (o *Orchestrator) Cancel(batchID domain.BatchID) error {
	o.mu.Lock()
	run, ok := o.batches[batchID]
	if !ok {
		o.mu.Unlock()
		return apperrors.Batch("unknown batch: " + batchID.String())
	}
	for i := range run.status.Operations {
		item := &run.status.Operations[i]
		if !item.State.Terminal() {
			item.State = domain.StateCancelled
			item.Error = ""
		}
	}
	if run.status.CompletedAt == nil {
		now := o.clock.Now()
		run.status.CompletedAt = &now
	}
	o.mu.Unlock()
	run.cancel()
	return nil
}

// Status snapshots one batch.
func (o *Orchestrator) Status(batchID domain.BatchID) (domain.BatchStatus, error) {
	o.mu.RLock()
	_, ok := o.batches[batchID]
	o.mu.RUnlock()
	if !ok {
		return domain.BatchStatus{}, apperrors.Batch("unknown batch: " + batchID.String())
	}
	return o.snapshot(batchID), nil
}

// Progress tallies one batch.
func (o *Orchestrator) Progress(batchID domain.BatchID) (domain.BatchProgress, error) {
	status, err := o.Status(batchID)
	if err != nil {
		return domain.BatchProgress{}, err
	}
	p := domain.BatchProgress{
		BatchID:         batchID,
		TotalOperations: len(status.Operations),
	}
	for _, item := range status.Operations {
		switch item.State {
		case domain.StateCompleted:
			p.Completed++
		case domain.StateFailed:
			p.Failed++
		case domain.StateCancelled:
			p.Cancelled++
		default:
			p.InFlight++
		}
	}
	if p.TotalOperations > 0 {
		p.OverallProgress = float64(p.Completed+p.Failed+p.Cancelled) / float64(p.TotalOperations) * 100
	} else {
		p.OverallProgress = 100
	}
	return p, nil
}

// Wait blocks until the batch completes or ctx is done; test and CLI helper.
func (o *Orchestrator) Wait(ctx context.Context, batchID domain.BatchID) (domain.BatchStatus, error) {
	for {
		status, err := o.Status(batchID)
		if err != nil {
			return domain.BatchStatus{}, err
		}
		if status.CompletedAt != nil {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, apperrors.Cancelled()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (o *Orchestrator) snapshot(batchID domain.BatchID) domain.BatchStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	run, ok := o.batches[batchID]
	if !ok {
		return domain.BatchStatus{}
	}
	out := run.status
	out.Operations = append([]domain.BatchOperationItem(nil), run.status.Operations...)
	return out
}
