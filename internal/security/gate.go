package security

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"kizuna/internal/domain"
	"kizuna/internal/platform/clock"
	apperrors "kizuna/internal/platform/errors"
)

// SessionLifetime bounds a CLI session.
const SessionLifetime = 24 * time.Hour

// Operation names the peer-touching actions the gate authorizes.
type Operation string

const (
	OpSend      Operation = "send"
	OpReceive   Operation = "receive"
	OpExec      Operation = "exec"
	OpViewerAdd Operation = "viewer_add"
	OpClipboard Operation = "clipboard_sync"
	OpDiscover  Operation = "discover"
)

// Provider is the contract the gate consumes from the security subsystem.
type Provider interface {
	GetOrCreateIdentity(ctx context.Context) (domain.PeerID, error)
	IsTrusted(ctx context.Context, peer domain.PeerID) (bool, error)
	AddTrustedPeer(ctx context.Context, peer domain.PeerID, nickname string) error
	RemoveTrustedPeer(ctx context.Context, peer domain.PeerID) error
	IsBlocked(ctx context.Context, peer domain.PeerID) (bool, error)
	GeneratePairingCode(ctx context.Context) (string, error)
	VerifyPairingCode(ctx context.Context, code string) (bool, error)
	TrustedPeers(ctx context.Context) (map[domain.PeerID]string, error)
}

// Gate mediates every peer-touching operation. It owns the CLI session and
// the private-mode toggle; trust decisions delegate to the Provider.
type Gate struct {
	provider Provider
	clock    clock.Clock

	mu          sync.RWMutex
	session     *domain.CLISession
	privateMode bool
	invites     map[string]struct{}
}

func NewGate(provider Provider, clk clock.Clock) *Gate {
	return &Gate{
		provider: provider,
		clock:    clk,
		invites:  map[string]struct{}{},
	}
}

// Authenticate retrieves or creates the device identity and mints a session.
// An existing valid session is reused.
func (g *Gate) Authenticate(ctx context.Context) (domain.CLISession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if g.session != nil && g.session.Valid(now) {
		return *g.session, nil
	}
	device, err := g.provider.GetOrCreateIdentity(ctx)
	if err != nil {
		return domain.CLISession{}, apperrors.Security("identity: " + err.Error())
	}
	session := domain.CLISession{
		SessionID: uuid.New(),
		DeviceID:  device,
		StartedAt: now,
		ExpiresAt: now.Add(SessionLifetime),
	}
	g.session = &session
	return session, nil
}

// IsSessionValid reports whether the current session exists and has not
// expired.
func (g *Gate) IsSessionValid() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session != nil && g.session.Valid(g.clock.Now())
}

// Logout drops the session.
func (g *Gate) Logout() {
	g.mu.Lock()
	g.session = nil
	g.mu.Unlock()
}

// AuthorizeOperation applies the default policy: send, exec and stream
// viewer-add require a trusted peer; receive and passive operations pass.
// Blocked peers are always denied. A valid session is required throughout.
func (g *Gate) AuthorizeOperation(ctx context.Context, op Operation, peer domain.PeerID) error {
	if !g.IsSessionValid() {
		return apperrors.Security("no valid session; authenticate first")
	}
	blocked, err := g.provider.IsBlocked(ctx, peer)
	if err != nil {
		return apperrors.Security("trust lookup: " + err.Error())
	}
	if blocked {
		return apperrors.Security("peer is blocked: " + peer.String())
	}

	switch op {
	case OpSend, OpExec, OpViewerAdd:
		trusted, err := g.provider.IsTrusted(ctx, peer)
		if err != nil {
			return apperrors.Security("trust lookup: " + err.Error())
		}
		if !trusted {
			return apperrors.Security("peer is not trusted: " + peer.String())
		}
	}
	return nil
}

// TrustStatus classifies a peer for display.
func (g *Gate) TrustStatus(ctx context.Context, peer domain.PeerID) (domain.TrustStatus, error) {
	blocked, err := g.provider.IsBlocked(ctx, peer)
	if err != nil {
		return domain.Untrusted, err
	}
	if blocked {
		return domain.Blocked, nil
	}
	trusted, err := g.provider.IsTrusted(ctx, peer)
	if err != nil {
		return domain.Untrusted, err
	}
	if trusted {
		return domain.Trusted, nil
	}
	return domain.Untrusted, nil
}

// GeneratePairingCode mints a short-lived code another device presents back.
func (g *Gate) GeneratePairingCode(ctx context.Context) (string, error) {
	code, err := g.provider.GeneratePairingCode(ctx)
	if err != nil {
		return "", apperrors.Security("pairing code: " + err.Error())
	}
	return code, nil
}

// VerifyAndTrustPeer validates a pairing code and, on success, admits the
// peer as trusted under the given nickname.
func (g *Gate) VerifyAndTrustPeer(ctx context.Context, code string, peer domain.PeerID, nickname string) (bool, error) {
	ok, err := g.provider.VerifyPairingCode(ctx, code)
	if err != nil {
		return false, apperrors.Security("verify pairing code: " + err.Error())
	}
	if !ok {
		return false, nil
	}
	if err := g.provider.AddTrustedPeer(ctx, peer, nickname); err != nil {
		return false, apperrors.Security("add trusted peer: " + err.Error())
	}
	return true, nil
}

// AddTrustedPeer and RemoveTrustedPeer expose the trust store for the trust
// verb.
func (g *Gate) AddTrustedPeer(ctx context.Context, peer domain.PeerID, nickname string) error {
	if err := g.provider.AddTrustedPeer(ctx, peer, nickname); err != nil {
		return apperrors.Security("add trusted peer: " + err.Error())
	}
	return nil
}

func (g *Gate) RemoveTrustedPeer(ctx context.Context, peer domain.PeerID) error {
	if err := g.provider.RemoveTrustedPeer(ctx, peer); err != nil {
		return apperrors.Security("remove trusted peer: " + err.Error())
	}
	return nil
}

func (g *Gate) TrustedPeers(ctx context.Context) (map[domain.PeerID]string, error) {
	peers, err := g.provider.TrustedPeers(ctx)
	if err != nil {
		return nil, apperrors.Security("list trusted peers: " + err.Error())
	}
	return peers, nil
}

// SetPrivateMode restricts connections to peers holding a valid invite code.
func (g *Gate) SetPrivateMode(enabled bool) {
	g.mu.Lock()
	g.privateMode = enabled
	g.mu.Unlock()
}

func (g *Gate) PrivateMode() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.privateMode
}

// GenerateInviteCode mints an invite honored while private mode is on.
func (g *Gate) GenerateInviteCode() string {
	code := uuid.NewString()
	g.mu.Lock()
	g.invites[code] = struct{}{}
	g.mu.Unlock()
	return code
}

// ConnectionAllowed applies the private-mode rule to an inbound connection.
func (g *Gate) ConnectionAllowed(inviteCode string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.privateMode {
		return true
	}
	_, ok := g.invites[inviteCode]
	return ok
}
