package collab

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kizuna/internal/domain"
	"kizuna/internal/handlers"
	"kizuna/internal/platform/clock"
)

const transferChunk = 256 * 1024

// LoopbackTransfer moves files into a local spool directory, standing in for
// the remote end of a transfer. Progress is reported per chunk so the CLI
// and TUI exercise the same event path a network engine would feed.
type LoopbackTransfer struct {
	spoolDir string
	clock    clock.Clock

	mu        sync.Mutex
	cancelled map[domain.OperationID]context.CancelFunc
	events    chan handlers.TransferEvent
}

func NewLoopbackTransfer(spoolDir string, clk clock.Clock) *LoopbackTransfer {
	return &LoopbackTransfer{
		spoolDir:  spoolDir,
		clock:     clk,
		cancelled: map[domain.OperationID]context.CancelFunc{},
		events:    make(chan handlers.TransferEvent, 256),
	}
}

func (t *LoopbackTransfer) Events() <-chan handlers.TransferEvent { return t.events }

func (t *LoopbackTransfer) Send(ctx context.Context, req handlers.SendRequest) error {
	var total uint64
	for _, file := range req.Files {
		info, err := os.Stat(file)
		if err != nil {
			return err
		}
		total += uint64(info.Size())
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancelled[req.OperationID] = cancel
	t.mu.Unlock()

	go t.copyFiles(runCtx, req, total)
	return nil
}

func (t *LoopbackTransfer) copyFiles(ctx context.Context, req handlers.SendRequest, total uint64) {
	defer func() {
		t.mu.Lock()
		delete(t.cancelled, req.OperationID)
		t.mu.Unlock()
	}()

	dest := filepath.Join(t.spoolDir, req.Peer.String())
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.fail(req.OperationID, err)
		return
	}

	inProgress := domain.StateInProgress
	t.events <- handlers.TransferEvent{OperationID: req.OperationID, State: &inProgress, Total: &total}

	var moved uint64
	start := t.clock.Now()
	for _, file := range req.Files {
		n, err := t.copyFile(ctx, file, filepath.Join(dest, filepath.Base(file)), req.OperationID, &moved, total, start)
		moved += n
		if err != nil {
			if errors.Is(err, context.Canceled) {
				// Subscribers wait on a terminal event; a silent return
				// would leave the operation dangling.
				cancelled := domain.StateCancelled
				t.events <- handlers.TransferEvent{
					OperationID: req.OperationID,
					State:       &cancelled,
					Transferred: moved,
					Total:       &total,
				}
				return
			}
			t.fail(req.OperationID, err)
			return
		}
	}

	completed := domain.StateCompleted
	rate := rateSince(start, t.clock.Now(), moved)
	t.events <- handlers.TransferEvent{
		OperationID: req.OperationID,
		State:       &completed,
		Transferred: moved,
		Total:       &total,
		Rate:        &rate,
	}
}

func (t *LoopbackTransfer) copyFile(ctx context.Context, src, dst string, opID domain.OperationID, movedBefore *uint64, total uint64, start time.Time) (uint64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	var copied uint64
	buf := make([]byte, transferChunk)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return copied, err
			}
			copied += uint64(n)
			transferred := *movedBefore + copied
			rate := rateSince(start, t.clock.Now(), transferred)
			t.events <- handlers.TransferEvent{
				OperationID: opID,
				Transferred: transferred,
				Total:       &total,
				Rate:        &rate,
			}
		}
		if readErr == io.EOF {
			return copied, nil
		}
		if readErr != nil {
			return copied, readErr
		}
	}
}

func (t *LoopbackTransfer) fail(opID domain.OperationID, err error) {
	failed := domain.StateFailed
	t.events <- handlers.TransferEvent{OperationID: opID, State: &failed, Error: err.Error()}
}

// Receive completes immediately: the loopback peer has nothing to offer
// unless a paired process spools into the directory first.
func (t *LoopbackTransfer) Receive(ctx context.Context, req handlers.ReceiveRequest) error {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return err
	}
	go func() {
		completed := domain.StateCompleted
		t.events <- handlers.TransferEvent{
			OperationID: req.OperationID,
			State:       &completed,
			Message:     "listening window closed",
		}
	}()
	return nil
}

func (t *LoopbackTransfer) Cancel(_ context.Context, opID domain.OperationID) error {
	t.mu.Lock()
	cancel, ok := t.cancelled[opID]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func rateSince(start, now time.Time, bytes uint64) float64 {
	elapsed := now.Sub(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed
}
