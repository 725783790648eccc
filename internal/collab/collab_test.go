package collab_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"kizuna/internal/collab"
	"kizuna/internal/domain"
	"kizuna/internal/handlers"
	"kizuna/internal/platform/clock"
)

func TestLoopbackTransferCopiesIntoSpoolAndCompletes(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(src, make([]byte, 300*1024), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	spool := t.TempDir()
	engine := collab.NewLoopbackTransfer(spool, clock.SystemClock{})

	peer := uuid.New()
	opID := uuid.New()
	if err := engine.Send(context.Background(), handlers.SendRequest{
		OperationID: opID,
		Files:       []string{src},
		Peer:        peer,
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.After(5 * time.Second)
	var lastBytes uint64
	for {
		select {
		case <-deadline:
			t.Fatal("no completion event")
		case ev := <-engine.Events():
			if ev.OperationID != opID {
				continue
			}
			if ev.Transferred > 0 {
				if ev.Transferred < lastBytes {
					t.Fatalf("byte counter moved backward: %d -> %d", lastBytes, ev.Transferred)
				}
				lastBytes = ev.Transferred
			}
			if ev.State != nil && *ev.State == domain.StateCompleted {
				copied := filepath.Join(spool, peer.String(), "payload.bin")
				info, err := os.Stat(copied)
				if err != nil {
					t.Fatalf("spooled file: %v", err)
				}
				if info.Size() != 300*1024 {
					t.Fatalf("spooled size = %d, want %d", info.Size(), 300*1024)
				}
				return
			}
			if ev.State != nil && (*ev.State == domain.StateFailed || *ev.State == domain.StateCancelled) {
				t.Fatalf("transfer ended in %s: %s", *ev.State, ev.Error)
			}
		}
	}
}

func TestLoopbackTransferCancelStopsCopy(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(src, make([]byte, 4*1024*1024), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	engine := collab.NewLoopbackTransfer(t.TempDir(), clock.SystemClock{})

	opID := uuid.New()
	if err := engine.Send(context.Background(), handlers.SendRequest{
		OperationID: opID,
		Files:       []string{src},
		Peer:        uuid.New(),
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := engine.Cancel(context.Background(), opID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("no terminal event after cancel")
		case ev := <-engine.Events():
			if ev.OperationID != opID || ev.State == nil {
				continue
			}
			switch *ev.State {
			case domain.StateCancelled, domain.StateCompleted:
				// Completed is possible when the copy won the race.
				return
			case domain.StateFailed:
				t.Fatalf("transfer failed: %s", ev.Error)
			}
		}
	}
}

func TestStaticDiscoveryAnnouncesInjectedPeers(t *testing.T) {
	t.Parallel()

	disco := collab.NewSelfDiscovery(uuid.New().String())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := disco.StartDiscovery(ctx)
	if err != nil {
		t.Fatalf("start discovery: %v", err)
	}

	// The self record replays first.
	select {
	case ev := <-events:
		if ev.Kind != handlers.PeerDiscovered {
			t.Fatalf("first event kind = %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no self record replay")
	}

	disco.Announce(handlers.ServiceRecord{
		PeerID:       uuid.New().String(),
		Addresses:    []string{"192.168.1.20"},
		Capabilities: map[string]string{"name": "tablet", "device_type": "tablet"},
	})
	select {
	case ev := <-events:
		if ev.Kind != handlers.PeerDiscovered || ev.Record.Capabilities["name"] != "tablet" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("announce did not reach subscriber")
	}
}

func TestMemClipboardSyncMirrorsLocalChanges(t *testing.T) {
	t.Parallel()

	clip := collab.NewMemClipboard()
	peer := uuid.New()
	clip.SetLocal("first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := clip.Sync(ctx, peer)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	select {
	case <-updates:
	case <-time.After(5 * time.Second):
		t.Fatal("initial clipboard state not mirrored")
	}

	got, err := clip.Pull(ctx, peer)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if got != "first" {
		t.Fatalf("pull = %q, want %q", got, "first")
	}
}
