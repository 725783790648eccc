package handlers_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kizuna/internal/domain"
	"kizuna/internal/handlers"
	apperrors "kizuna/internal/platform/errors"
	"kizuna/internal/platform/id"
	"kizuna/internal/security"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeProvider struct {
	mu      sync.Mutex
	device  domain.PeerID
	trusted map[domain.PeerID]bool
	blocked map[domain.PeerID]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		device:  uuid.New(),
		trusted: map[domain.PeerID]bool{},
		blocked: map[domain.PeerID]bool{},
	}
}

func (p *fakeProvider) GetOrCreateIdentity(context.Context) (domain.PeerID, error) {
	return p.device, nil
}

func (p *fakeProvider) IsTrusted(_ context.Context, peer domain.PeerID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trusted[peer], nil
}

func (p *fakeProvider) AddTrustedPeer(_ context.Context, peer domain.PeerID, _ string) error {
	p.mu.Lock()
	p.trusted[peer] = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) RemoveTrustedPeer(_ context.Context, peer domain.PeerID) error {
	p.mu.Lock()
	delete(p.trusted, peer)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) IsBlocked(_ context.Context, peer domain.PeerID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocked[peer], nil
}

func (p *fakeProvider) GeneratePairingCode(context.Context) (string, error) { return "123456", nil }

func (p *fakeProvider) VerifyPairingCode(_ context.Context, code string) (bool, error) {
	return code == "123456", nil
}

func (p *fakeProvider) TrustedPeers(context.Context) (map[domain.PeerID]string, error) {
	return map[domain.PeerID]string{}, nil
}

type fakeEngine struct {
	mu        sync.Mutex
	sent      []handlers.SendRequest
	received  []handlers.ReceiveRequest
	cancelled []domain.OperationID
	sendErr   error
	events    chan handlers.TransferEvent
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan handlers.TransferEvent, 16)}
}

func (e *fakeEngine) Send(_ context.Context, req handlers.SendRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sendErr != nil {
		return e.sendErr
	}
	e.sent = append(e.sent, req)
	return nil
}

func (e *fakeEngine) Receive(_ context.Context, req handlers.ReceiveRequest) error {
	e.mu.Lock()
	e.received = append(e.received, req)
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Cancel(_ context.Context, opID domain.OperationID) error {
	e.mu.Lock()
	e.cancelled = append(e.cancelled, opID)
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Events() <-chan handlers.TransferEvent { return e.events }

func authedGate(t *testing.T, provider *fakeProvider, clk *fakeClock) *security.Gate {
	t.Helper()
	gate := security.NewGate(provider, clk)
	if _, err := gate.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return gate
}

func writeTempFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func newTransferFixture(t *testing.T) (*handlers.TransferHandler, *fakeEngine, *fakeProvider) {
	t.Helper()
	provider := newFakeProvider()
	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	engine := newFakeEngine()
	h := handlers.NewTransferHandler(engine, authedGate(t, provider, clk), clk, id.Random{}, zap.NewNop())
	return h, engine, provider
}

func TestSendRejectsUntrustedPeer(t *testing.T) {
	t.Parallel()
	h, engine, _ := newTransferFixture(t)
	file := writeTempFile(t, "report.pdf", 128)

	_, err := h.Send(context.Background(), []string{file}, uuid.New(), false, true)
	if apperrors.ExitCode(err) != 2 {
		t.Fatalf("want integration failure exit code 2, got err %v", err)
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.sent) != 0 {
		t.Fatal("engine must not be asked to send for a denied peer")
	}
}

func TestSendRegistersOperationWithTotalSize(t *testing.T) {
	t.Parallel()
	h, engine, provider := newTransferFixture(t)
	peer := uuid.New()
	provider.AddTrustedPeer(context.Background(), peer, "laptop")
	a := writeTempFile(t, "a.bin", 100)
	b := writeTempFile(t, "b.bin", 400)

	op, err := h.Send(context.Background(), []string{a, b}, peer, true, true)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if op.State != domain.StateStarting {
		t.Fatalf("state = %s, want starting", op.State)
	}
	if op.Progress == nil || op.Progress.Total == nil || *op.Progress.Total != 500 {
		t.Fatalf("total = %+v, want 500", op.Progress)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.sent) != 1 || !engine.sent[0].Compression {
		t.Fatalf("engine request = %+v", engine.sent)
	}
	if engine.sent[0].OperationID != op.OperationID {
		t.Fatal("engine must receive the registered operation id")
	}
}

func TestTransferEventsReachSubscribers(t *testing.T) {
	t.Parallel()
	h, engine, provider := newTransferFixture(t)
	peer := uuid.New()
	provider.AddTrustedPeer(context.Background(), peer, "laptop")
	file := writeTempFile(t, "video.mkv", 1000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	op, err := h.Send(ctx, []string{file}, peer, false, true)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sub := h.Subscribe()

	inProgress := domain.StateInProgress
	rate := 250.0
	engine.events <- handlers.TransferEvent{
		OperationID: op.OperationID,
		State:       &inProgress,
		Transferred: 250,
		Rate:        &rate,
	}

	select {
	case got := <-sub:
		if got.State != domain.StateInProgress || got.Progress.Current != 250 {
			t.Fatalf("update = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
	if bw := h.CurrentBandwidth(); bw != 250 {
		t.Fatalf("bandwidth = %v, want 250", bw)
	}
}

func TestCancelledTransferIgnoresLateCompletion(t *testing.T) {
	t.Parallel()
	h, engine, provider := newTransferFixture(t)
	peer := uuid.New()
	provider.AddTrustedPeer(context.Background(), peer, "laptop")
	file := writeTempFile(t, "big.iso", 64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	op, err := h.Send(ctx, []string{file}, peer, false, true)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := h.Cancel(ctx, op.OperationID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	completed := domain.StateCompleted
	engine.events <- handlers.TransferEvent{OperationID: op.OperationID, State: &completed}
	// Second event on the same channel guarantees the first was consumed.
	engine.events <- handlers.TransferEvent{OperationID: uuid.New()}
	deadline := time.Now().Add(2 * time.Second)
	for len(engine.events) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler stopped draining events")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, ok := h.GetOperation(op.OperationID)
	if !ok || got.State != domain.StateCancelled {
		t.Fatalf("state = %v, want cancelled to stick", got.State)
	}
}

func TestReceiveRefusesBlockedOffer(t *testing.T) {
	t.Parallel()
	h, engine, provider := newTransferFixture(t)
	blocked := uuid.New()
	provider.mu.Lock()
	provider.blocked[blocked] = true
	provider.mu.Unlock()

	if _, err := h.Receive(context.Background(), t.TempDir(), false); err != nil {
		t.Fatalf("receive: %v", err)
	}
	engine.mu.Lock()
	accept := engine.received[0].Accept
	engine.mu.Unlock()

	if accept(blocked) {
		t.Fatal("offer from a blocked peer must be refused")
	}
	if !accept(uuid.New()) {
		t.Fatal("offer from an unblocked peer must reach manual confirmation")
	}
}

type fakeDiscovery struct {
	records []handlers.ServiceRecord
	events  chan handlers.DiscoveryEvent
}

func (d *fakeDiscovery) Initialize(context.Context) error { return nil }

func (d *fakeDiscovery) DiscoverOnce(context.Context, time.Duration) ([]handlers.ServiceRecord, error) {
	return d.records, nil
}

func (d *fakeDiscovery) StartDiscovery(context.Context) (<-chan handlers.DiscoveryEvent, error) {
	return d.events, nil
}

func (d *fakeDiscovery) Shutdown(context.Context) error { return nil }

func (d *fakeDiscovery) CachedPeers() []handlers.ServiceRecord { return d.records }

func record(peerID, name, deviceType string) handlers.ServiceRecord {
	return handlers.ServiceRecord{
		PeerID: peerID,
		Capabilities: map[string]string{
			"name":         name,
			"device_type":  deviceType,
			"capabilities": "file_transfer,clipboard",
		},
	}
}

func TestDiscoverFiltersAndSorts(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	disc := &fakeDiscovery{records: []handlers.ServiceRecord{
		record("peer-b", "workshop-pi", "raspberry"),
		record("peer-a", "alices-laptop", "laptop"),
		record("peer-c", "bobs-laptop", "laptop"),
	}}
	h := handlers.NewDiscoverHandler(disc, authedGate(t, provider, clk), clk, zap.NewNop())

	result, err := h.Discover(context.Background(), handlers.DiscoverFilters{DeviceType: "LAPTOP"})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(result.Peers) != 2 {
		t.Fatalf("peers = %d, want 2", len(result.Peers))
	}
	if result.Peers[0].Name != "alices-laptop" || result.Peers[1].Name != "bobs-laptop" {
		t.Fatalf("order = %s, %s", result.Peers[0].Name, result.Peers[1].Name)
	}
	for _, p := range result.Peers {
		if p.TrustStatus != domain.Untrusted {
			t.Fatalf("trust = %s, want untrusted", p.TrustStatus)
		}
	}
}

func TestDiscoverRequiresSession(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	disc := &fakeDiscovery{records: []handlers.ServiceRecord{record("peer-a", "laptop", "laptop")}}
	h := handlers.NewDiscoverHandler(disc, security.NewGate(provider, clk), clk, zap.NewNop())

	_, err := h.Discover(context.Background(), handlers.DiscoverFilters{})
	if apperrors.ExitCode(err) != 2 {
		t.Fatalf("want security exit code 2 without a session, got %v", err)
	}
}

func TestResolvePeersSeedsFromCollaboratorCache(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	peerID := uuid.New()
	disc := &fakeDiscovery{records: []handlers.ServiceRecord{record(peerID.String(), "alices-laptop", "laptop")}}
	h := handlers.NewDiscoverHandler(disc, authedGate(t, provider, clk), clk, zap.NewNop())

	if cached := h.GetCachedPeers(); len(cached) != 0 {
		t.Fatalf("cache should start empty, got %d", len(cached))
	}
	peers := h.ResolvePeers(context.Background())
	if len(peers) != 1 || peers[0].Name != "alices-laptop" || peers[0].ID != peerID {
		t.Fatalf("resolved = %+v", peers)
	}
	// A second call serves from the warmed cache.
	if again := h.ResolvePeers(context.Background()); len(again) != 1 {
		t.Fatalf("warm cache lost the peer: %+v", again)
	}
}

func TestContinuousDiscoveryAnnouncesOnlyNewPeers(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	disc := &fakeDiscovery{events: make(chan handlers.DiscoveryEvent, 8)}
	h := handlers.NewDiscoverHandler(disc, authedGate(t, provider, clk), clk, zap.NewNop())

	if err := h.StartContinuousDiscovery(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.StopContinuousDiscovery()

	disc.events <- handlers.DiscoveryEvent{Kind: handlers.PeerDiscovered, Record: record("peer-a", "phone", "mobile")}
	select {
	case peer := <-h.NewPeers():
		if peer.Name != "phone" {
			t.Fatalf("announced %q", peer.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("new peer never announced")
	}

	// Re-announcing the same identity updates the cache silently.
	disc.events <- handlers.DiscoveryEvent{Kind: handlers.PeerDiscovered, Record: record("peer-a", "phone", "mobile")}
	disc.events <- handlers.DiscoveryEvent{Kind: handlers.PeerLost, PeerID: "peer-a"}
	deadline := time.Now().Add(2 * time.Second)
	for {
		peers := h.GetCachedPeers()
		if len(peers) == 1 && peers[0].ConnectionStatus == domain.Disconnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("peer never marked lost: %+v", peers)
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case peer := <-h.NewPeers():
		t.Fatalf("duplicate announcement for %q", peer.Name)
	default:
	}
}

type fakeExecutor struct {
	result handlers.ExecResult
	err    error
}

func (e *fakeExecutor) Execute(context.Context, domain.PeerID, string) (handlers.ExecResult, error) {
	return e.result, e.err
}

func TestExecuteReturnsResultForTrustedPeer(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	peer := uuid.New()
	provider.AddTrustedPeer(context.Background(), peer, "server")
	exec := &fakeExecutor{result: handlers.ExecResult{Stdout: "ok\n", ExitCode: 0}}
	h := handlers.NewExecHandler(exec, authedGate(t, provider, clk), clk, id.Random{}, zap.NewNop())

	result, err := h.Execute(context.Background(), peer, "uptime", 30*time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Stdout != "ok\n" {
		t.Fatalf("stdout = %q", result.Stdout)
	}
	ops := h.GetAllOperations()
	if len(ops) != 1 || ops[0].State != domain.StateCompleted {
		t.Fatalf("ops = %+v", ops)
	}
}

func TestExecuteDeniedWithoutTrust(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	h := handlers.NewExecHandler(&fakeExecutor{}, authedGate(t, provider, clk), clk, id.Random{}, zap.NewNop())

	_, err := h.Execute(context.Background(), uuid.New(), "rm notes.txt", 0)
	if apperrors.ExitCode(err) != 2 {
		t.Fatalf("want exit code 2, got err %v", err)
	}
	if len(h.GetAllOperations()) != 0 {
		t.Fatal("denied execution must not register an operation")
	}
}

type fakeStreamer struct {
	mu     sync.Mutex
	calls  []string
	events chan handlers.StreamEvent
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{events: make(chan handlers.StreamEvent, 8)}
}

func (s *fakeStreamer) note(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *fakeStreamer) StartStream(_ context.Context, cfg handlers.StreamConfig) error {
	s.note("start:" + cfg.Quality)
	return nil
}

func (s *fakeStreamer) PauseStream(context.Context, domain.OperationID) error {
	s.note("pause")
	return nil
}

func (s *fakeStreamer) ResumeStream(context.Context, domain.OperationID) error {
	s.note("resume")
	return nil
}

func (s *fakeStreamer) StopStream(context.Context, domain.OperationID) error {
	s.note("stop")
	return nil
}

func (s *fakeStreamer) AddViewer(context.Context, domain.OperationID, domain.PeerID) error {
	s.note("add_viewer")
	return nil
}

func (s *fakeStreamer) RemoveViewer(context.Context, domain.OperationID, domain.PeerID) error {
	s.note("remove_viewer")
	return nil
}

func (s *fakeStreamer) Events() <-chan handlers.StreamEvent { return s.events }

func TestStreamLifecycle(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	streamer := newFakeStreamer()
	h := handlers.NewStreamingHandler(streamer, authedGate(t, provider, clk), clk, id.Random{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	op, url, err := h.Start(ctx, "high", false, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if want := "kizuna://stream/" + op.OperationID.String(); url != want {
		t.Fatalf("url = %q, want %q", url, want)
	}

	sub := h.Subscribe()
	streamer.events <- handlers.StreamEvent{StreamID: op.OperationID, State: handlers.StreamActive, ViewerCount: 2}
	select {
	case got := <-sub:
		if got.State != domain.StateInProgress || got.Progress.Current != 2 {
			t.Fatalf("update = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stream update delivered")
	}

	streamer.events <- handlers.StreamEvent{StreamID: op.OperationID, State: handlers.StreamStopped}
	select {
	case got := <-sub:
		if got.State != domain.StateCompleted {
			t.Fatalf("state = %s, want completed", got.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop never delivered")
	}

	if err := h.Pause(ctx, op.OperationID); err == nil {
		t.Fatal("pause after stop must fail")
	}
}

func TestStreamRejectsUnknownQuality(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	h := handlers.NewStreamingHandler(newFakeStreamer(), authedGate(t, provider, clk), clk, id.Random{}, zap.NewNop())

	_, _, err := h.Start(context.Background(), "4k", false, "")
	if err == nil {
		t.Fatal("want error for unknown quality")
	}
}

type fixedQueue struct{ stats handlers.QueueStats }

func (q fixedQueue) Stats() handlers.QueueStats { return q.stats }

func TestStatusSnapshotAggregates(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider()
	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	gate := authedGate(t, provider, clk)

	disc := &fakeDiscovery{records: []handlers.ServiceRecord{record("peer-a", "laptop", "laptop")}}
	dh := handlers.NewDiscoverHandler(disc, gate, clk, zap.NewNop())
	if _, err := dh.Discover(context.Background(), handlers.DiscoverFilters{}); err != nil {
		t.Fatalf("discover: %v", err)
	}

	engine := newFakeEngine()
	th := handlers.NewTransferHandler(engine, gate, clk, id.Random{}, zap.NewNop())
	peer := uuid.New()
	provider.AddTrustedPeer(context.Background(), peer, "laptop")
	file := writeTempFile(t, "x.bin", 10)
	if _, err := th.Send(context.Background(), []string{file}, peer, false, true); err != nil {
		t.Fatalf("send: %v", err)
	}

	sh := handlers.NewStatusHandler(dh, fixedQueue{handlers.QueueStats{Pending: 3}}, gate, th, clk, th)
	st := sh.Snapshot()
	if st.PeersOnline != 1 {
		t.Fatalf("peers online = %d", st.PeersOnline)
	}
	if len(st.ActiveOperations) != 1 {
		t.Fatalf("active = %d", len(st.ActiveOperations))
	}
	if st.Queue.Pending != 3 {
		t.Fatalf("queue pending = %d", st.Queue.Pending)
	}
	if !st.SessionValid {
		t.Fatal("session should be valid")
	}
}
