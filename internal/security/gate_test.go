package security_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"kizuna/internal/domain"
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
	trusted map[domain.PeerID]string
	blocked map[domain.PeerID]bool
	code    string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		device:  uuid.New(),
		trusted: map[domain.PeerID]string{},
		blocked: map[domain.PeerID]bool{},
		code:    "123456",
	}
}

func (p *fakeProvider) GetOrCreateIdentity(context.Context) (domain.PeerID, error) {
	return p.device, nil
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

func (p *fakeProvider) IsBlocked(_ context.Context, peer domain.PeerID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocked[peer], nil
}

func (p *fakeProvider) GeneratePairingCode(context.Context) (string, error) { return p.code, nil }

func (p *fakeProvider) VerifyPairingCode(_ context.Context, code string) (bool, error) {
	return code == p.code, nil
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

func newGate(t *testing.T) (*security.Gate, *fakeProvider, *fakeClock) {
	t.Helper()
	provider := newFakeProvider()
	clk := &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	return security.NewGate(provider, clk), provider, clk
}

func TestAuthenticateMintsAndReusesSession(t *testing.T) {
	t.Parallel()
	gate, _, clk := newGate(t)
	ctx := context.Background()

	first, err := gate.Authenticate(ctx)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if first.ExpiresAt.Sub(first.StartedAt) != security.SessionLifetime {
		t.Fatalf("session lifetime = %v", first.ExpiresAt.Sub(first.StartedAt))
	}

	second, err := gate.Authenticate(ctx)
	if err != nil {
		t.Fatalf("re-authenticate: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatal("valid session must be reused")
	}

	clk.Advance(25 * time.Hour)
	if gate.IsSessionValid() {
		t.Fatal("session must expire after 24h")
	}
	third, err := gate.Authenticate(ctx)
	if err != nil {
		t.Fatalf("authenticate after expiry: %v", err)
	}
	if third.SessionID == first.SessionID {
		t.Fatal("expired session must be replaced")
	}
}

func TestAuthorizeOperationPolicy(t *testing.T) {
	t.Parallel()
	gate, provider, _ := newGate(t)
	ctx := context.Background()
	if _, err := gate.Authenticate(ctx); err != nil {
		t.Fatal(err)
	}

	stranger := uuid.New()
	friend := uuid.New()
	provider.trusted[friend] = "friend"

	if err := gate.AuthorizeOperation(ctx, security.OpSend, stranger); err == nil {
		t.Fatal("send to untrusted peer must be denied")
	}
	if err := gate.AuthorizeOperation(ctx, security.OpExec, stranger); err == nil {
		t.Fatal("exec on untrusted peer must be denied")
	}
	if err := gate.AuthorizeOperation(ctx, security.OpViewerAdd, stranger); err == nil {
		t.Fatal("viewer add for untrusted peer must be denied")
	}
	if err := gate.AuthorizeOperation(ctx, security.OpReceive, stranger); err != nil {
		t.Fatalf("receive is allowed for untrusted peers: %v", err)
	}
	if err := gate.AuthorizeOperation(ctx, security.OpSend, friend); err != nil {
		t.Fatalf("send to trusted peer: %v", err)
	}

	provider.blocked[friend] = true
	if err := gate.AuthorizeOperation(ctx, security.OpReceive, friend); err == nil {
		t.Fatal("blocked peers are denied everything")
	}
}

func TestAuthorizeRequiresSession(t *testing.T) {
	t.Parallel()
	gate, _, _ := newGate(t)
	if err := gate.AuthorizeOperation(context.Background(), security.OpSend, uuid.New()); err == nil {
		t.Fatal("operations without a session must be denied")
	}
}

func TestPairingFlow(t *testing.T) {
	t.Parallel()
	gate, _, _ := newGate(t)
	ctx := context.Background()
	peer := uuid.New()

	code, err := gate.GeneratePairingCode(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := gate.VerifyAndTrustPeer(ctx, "wrong", peer, "nick")
	if err != nil || ok {
		t.Fatalf("wrong code must not trust: ok=%v err=%v", ok, err)
	}
	if status, _ := gate.TrustStatus(ctx, peer); status != domain.Untrusted {
		t.Fatalf("status after failed pairing = %s", status)
	}

	ok, err = gate.VerifyAndTrustPeer(ctx, code, peer, "nick")
	if err != nil || !ok {
		t.Fatalf("pairing failed: ok=%v err=%v", ok, err)
	}
	if status, _ := gate.TrustStatus(ctx, peer); status != domain.Trusted {
		t.Fatalf("status after pairing = %s", status)
	}
}

func TestTrustAddRemoveRoundTrip(t *testing.T) {
	t.Parallel()
	gate, _, _ := newGate(t)
	ctx := context.Background()
	peer := uuid.New()

	if err := gate.AddTrustedPeer(ctx, peer, "nick"); err != nil {
		t.Fatal(err)
	}
	if err := gate.RemoveTrustedPeer(ctx, peer); err != nil {
		t.Fatal(err)
	}
	status, err := gate.TrustStatus(ctx, peer)
	if err != nil {
		t.Fatal(err)
	}
	if status != domain.Untrusted {
		t.Fatalf("add then remove must leave peer untrusted, got %s", status)
	}
}

func TestPrivateModeInvites(t *testing.T) {
	t.Parallel()
	gate, _, _ := newGate(t)
	if !gate.ConnectionAllowed("") {
		t.Fatal("connections allowed while private mode is off")
	}
	gate.SetPrivateMode(true)
	if gate.ConnectionAllowed("bogus") {
		t.Fatal("private mode must reject unknown invites")
	}
	code := gate.GenerateInviteCode()
	if !gate.ConnectionAllowed(code) {
		t.Fatal("valid invite must be admitted")
	}
}
