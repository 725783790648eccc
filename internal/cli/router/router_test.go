package router_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kizuna/internal/batch"
	"kizuna/internal/cli/history"
	"kizuna/internal/cli/router"
	"kizuna/internal/domain"
	"kizuna/internal/handlers"
	"kizuna/internal/platform/config"
	"kizuna/internal/platform/id"
	"kizuna/internal/queue"
	"kizuna/internal/security"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fakeProvider struct {
	mu      sync.Mutex
	trusted map[domain.PeerID]string
}

func (p *fakeProvider) GetOrCreateIdentity(context.Context) (domain.PeerID, error) {
	return uuid.MustParse("11111111-1111-1111-1111-111111111111"), nil
}

func (p *fakeProvider) IsTrusted(_ context.Context, peer domain.PeerID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.trusted[peer]
	return ok, nil
}

func (p *fakeProvider) AddTrustedPeer(_ context.Context, peer domain.PeerID, nickname string) error {
	p.mu.Lock()
	p.trusted[peer] = nickname
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) RemoveTrustedPeer(_ context.Context, peer domain.PeerID) error {
	p.mu.Lock()
	delete(p.trusted, peer)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) IsBlocked(context.Context, domain.PeerID) (bool, error) { return false, nil }

func (p *fakeProvider) GeneratePairingCode(context.Context) (string, error) { return "123456", nil }

func (p *fakeProvider) VerifyPairingCode(_ context.Context, code string) (bool, error) {
	return code == "123456", nil
}

func (p *fakeProvider) TrustedPeers(context.Context) (map[domain.PeerID]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[domain.PeerID]string, len(p.trusted))
	for k, v := range p.trusted {
		out[k] = v
	}
	return out, nil
}

// autoEngine completes every send instantly.
type autoEngine struct {
	events chan handlers.TransferEvent
}

func (e *autoEngine) Send(_ context.Context, req handlers.SendRequest) error {
	completed := domain.StateCompleted
	e.events <- handlers.TransferEvent{OperationID: req.OperationID, State: &completed, Transferred: 64}
	return nil
}

func (e *autoEngine) Receive(_ context.Context, req handlers.ReceiveRequest) error {
	completed := domain.StateCompleted
	e.events <- handlers.TransferEvent{OperationID: req.OperationID, State: &completed, Transferred: 32}
	return nil
}

func (e *autoEngine) Cancel(context.Context, domain.OperationID) error { return nil }

func (e *autoEngine) Events() <-chan handlers.TransferEvent { return e.events }

type staticDiscovery struct {
	records []handlers.ServiceRecord
}

func (d *staticDiscovery) Initialize(context.Context) error { return nil }

func (d *staticDiscovery) DiscoverOnce(context.Context, time.Duration) ([]handlers.ServiceRecord, error) {
	return d.records, nil
}

func (d *staticDiscovery) StartDiscovery(context.Context) (<-chan handlers.DiscoveryEvent, error) {
	return make(chan handlers.DiscoveryEvent), nil
}

func (d *staticDiscovery) Shutdown(context.Context) error { return nil }

func (d *staticDiscovery) CachedPeers() []handlers.ServiceRecord { return d.records }

// instantSender satisfies every batch cell on the spot.
type instantSender struct {
	mu    sync.Mutex
	calls []string
}

func (s *instantSender) SendAndWait(_ context.Context, file string, _ domain.PeerID) error {
	s.mu.Lock()
	s.calls = append(s.calls, file)
	s.mu.Unlock()
	return nil
}

type fixture struct {
	router   *router.Router
	provider *fakeProvider
	peerID   domain.PeerID
	cfg      *config.CLIConfig
	sender   *instantSender
}

func newFixture(t *testing.T) *fixture {
	return newFixtureStdin(t, nil)
}

func newFixtureStdin(t *testing.T, stdin io.Reader) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()
	provider := &fakeProvider{trusted: map[domain.PeerID]string{}}
	gate := security.NewGate(provider, clk)
	if _, err := gate.Authenticate(ctx); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	peerID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	discovery := &staticDiscovery{records: []handlers.ServiceRecord{{
		PeerID: peerID.String(),
		Capabilities: map[string]string{
			"name":        "laptop",
			"device_type": "laptop",
		},
	}}}
	dh := handlers.NewDiscoverHandler(discovery, gate, clk, logger)

	engine := &autoEngine{events: make(chan handlers.TransferEvent, 64)}
	th := handlers.NewTransferHandler(engine, gate, clk, id.Random{}, logger)
	go th.Run(ctx)

	store, err := queue.NewStore(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("queue store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	scheduler, err := queue.NewScheduler(ctx, store, th, clk, id.Random{}, logger, 0)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}

	log, err := history.Open(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	cfg := config.Default()
	sh := handlers.NewStatusHandler(dh, scheduler, gate, th, clk, th)
	sender := &instantSender{}

	r := router.New(router.Deps{
		Discover:   dh,
		Transfer:   th,
		Streaming:  nil,
		Exec:       nil,
		Clipboard:  nil,
		Status:     sh,
		Queue:      scheduler,
		Batch:      batch.NewOrchestrator(sender, clk, id.Random{}, logger),
		Gate:       gate,
		Config:     &cfg,
		History:    log,
		Clock:      clk,
		Logger:     logger,
		ConfigPath: filepath.Join(t.TempDir(), "config.toml"),
		Stdin:      stdin,
	})
	return &fixture{router: r, provider: provider, peerID: peerID, cfg: &cfg, sender: sender}
}

func TestUnknownVerbSuggests(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.router.Run(context.Background(), []string{"dicover"})
	if res.Success || res.ExitCode != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "discover") {
		t.Fatalf("no suggestion in %q", res.Output)
	}
}

func TestDiscoverRendersPeers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.router.Run(context.Background(), []string{"discover", "--format", "minimal"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "laptop") || !strings.Contains(res.Output, "Found 1 peer(s)") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestSendToUntrustedPeerFailsWithIntegrationCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	file := writeFile(t, "a.txt")

	res := f.router.Run(context.Background(), []string{"send", file, "--peer", "laptop"})
	if res.Success || res.ExitCode != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSendResolvesPeerByName(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.provider.AddTrustedPeer(ctx, f.peerID, "laptop")
	// Warm the peer cache so name resolution can see the peer.
	if res := f.router.Run(ctx, []string{"discover"}); !res.Success {
		t.Fatalf("discover: %+v", res)
	}
	file := writeFile(t, "a.txt")

	res := f.router.Run(ctx, []string{"send", file, "--peer", "laptop"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "Sent 1 file(s)") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestBatchReadsManifestFromStdin(t *testing.T) {
	t.Parallel()
	file := writeFile(t, "a.txt")
	manifest := fmt.Sprintf(`{"files":[%q],"peers":["22222222-2222-2222-2222-222222222222"]}`, file)
	f := newFixtureStdin(t, strings.NewReader(manifest))

	res := f.router.Run(context.Background(), []string{"batch", "--pipeline"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "1 completed") {
		t.Fatalf("output = %q", res.Output)
	}
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	if len(f.sender.calls) != 1 || f.sender.calls[0] != file {
		t.Fatalf("sends = %v", f.sender.calls)
	}
}

func TestBatchWithoutFileOrStdinFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.router.Run(context.Background(), []string{"batch"})
	if res.Success || res.ExitCode != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "--file") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestSendReadsPipedFilesAndPeer(t *testing.T) {
	t.Parallel()
	file := writeFile(t, "a.txt")
	input := "22222222-2222-2222-2222-222222222222\n" + file + "\n"
	f := newFixtureStdin(t, strings.NewReader(input))
	ctx := context.Background()
	f.provider.AddTrustedPeer(ctx, f.peerID, "laptop")

	res := f.router.Run(ctx, []string{"send", "--pipeline"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "Sent 1 file(s)") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestQueueAddAndList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	file := writeFile(t, "big.bin")

	res := f.router.Run(ctx, []string{"queue", "add", file, "--peer", f.peerID.String(), "--priority", "urgent"})
	if !res.Success {
		t.Fatalf("add: %+v", res)
	}
	list := f.router.Run(ctx, []string{"queue", "list", "--format", "minimal"})
	if !list.Success || !strings.Contains(list.Output, "urgent") {
		t.Fatalf("list: %+v", list)
	}
	stats := f.router.Run(ctx, []string{"queue", "stats"})
	if !stats.Success || !strings.Contains(stats.Output, "pending 1") {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestConfigSetPersistsAndGetReads(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res := f.router.Run(ctx, []string{"config", "set", "output_format", "json"})
	if !res.Success {
		t.Fatalf("set: %+v", res)
	}
	get := f.router.Run(ctx, []string{"config", "get", "output_format"})
	if !get.Success || get.Output != "json" {
		t.Fatalf("get: %+v", get)
	}
}

func TestValidationWarningsSurface(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.provider.AddTrustedPeer(ctx, f.peerID, "laptop")
	file := writeFile(t, "a.txt")

	res := f.router.Run(ctx, []string{"send", file, "--peer", f.peerID.String(), "--no-encryption"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Warnings) == 0 || !strings.Contains(res.Warnings[0], "not be encrypted") {
		t.Fatalf("warnings = %v", res.Warnings)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.router.Run(ctx, []string{"status"})
	res := f.router.Run(ctx, []string{"history", "show", "--format", "minimal"})
	if !res.Success || !strings.Contains(res.Output, "status") {
		t.Fatalf("history: %+v", res)
	}
}

func writeFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}
