package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kizuna/internal/domain"
	"kizuna/internal/platform/clock"
	apperrors "kizuna/internal/platform/errors"
	"kizuna/internal/security"
)

// DefaultDiscoverTimeout bounds a one-shot discovery window.
const DefaultDiscoverTimeout = 10 * time.Second

// ServiceRecord is what the discovery collaborator reports per peer.
type ServiceRecord struct {
	PeerID       string
	Addresses    []string
	Capabilities map[string]string
}

type DiscoveryEventKind int

const (
	PeerDiscovered DiscoveryEventKind = iota
	PeerLost
	StrategyChanged
	DiscoveryError
)

// DiscoveryEvent is one entry on the collaborator's event stream.
type DiscoveryEvent struct {
	Kind    DiscoveryEventKind
	Record  ServiceRecord
	PeerID  string
	Message string
}

// Discovery is the collaborator contract the handler consumes.
type Discovery interface {
	Initialize(ctx context.Context) error
	DiscoverOnce(ctx context.Context, timeout time.Duration) ([]ServiceRecord, error)
	StartDiscovery(ctx context.Context) (<-chan DiscoveryEvent, error)
	Shutdown(ctx context.Context) error
	CachedPeers() []ServiceRecord
}

// DiscoverFilters narrow a discovery result. Substring matches are
// case-insensitive.
type DiscoverFilters struct {
	DeviceType string
	Name       string
	Timeout    time.Duration
}

// DiscoverResult is the outcome of a one-shot discovery.
type DiscoverResult struct {
	Peers         []domain.PeerInfo
	DiscoveryTime time.Duration
}

// DiscoverHandler runs one-shot and continuous discovery and keeps the
// realtime peer cache every other component reads.
type DiscoverHandler struct {
	discovery Discovery
	gate      *security.Gate
	clock     clock.Clock
	logger    *zap.Logger

	mu      sync.RWMutex
	peers   map[domain.PeerID]domain.PeerInfo
	cancel  context.CancelFunc
	running bool

	newPeerCh chan domain.PeerInfo
}

func NewDiscoverHandler(discovery Discovery, gate *security.Gate, clk clock.Clock, logger *zap.Logger) *DiscoverHandler {
	return &DiscoverHandler{
		discovery: discovery,
		gate:      gate,
		clock:     clk,
		logger:    logger,
		peers:     map[domain.PeerID]domain.PeerInfo{},
		newPeerCh: make(chan domain.PeerInfo, notifyBuffer),
	}
}

// NewPeers delivers peers seen for the first time during continuous
// discovery.
func (h *DiscoverHandler) NewPeers() <-chan domain.PeerInfo {
	return h.newPeerCh
}

// Discover runs a one-shot discovery bounded by the filter timeout (default
// 10s), applies the filters, and annotates trust status through the gate.
// A valid session is required before the network is touched.
func (h *DiscoverHandler) Discover(ctx context.Context, filters DiscoverFilters) (DiscoverResult, error) {
	if err := h.gate.AuthorizeOperation(ctx, security.OpDiscover, domain.PeerID{}); err != nil {
		return DiscoverResult{}, err
	}
	timeout := filters.Timeout
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	start := h.clock.Now()
	records, err := h.discovery.DiscoverOnce(ctx, timeout)
	if err != nil {
		return DiscoverResult{}, apperrors.Discovery(err.Error())
	}
	elapsed := h.clock.Now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	peers := make([]domain.PeerInfo, 0, len(records))
	for _, rec := range records {
		peer := h.peerFromRecord(ctx, rec, domain.Connected)
		if !matchesFilters(peer, filters) {
			continue
		}
		peers = append(peers, peer)
		h.upsert(peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })
	return DiscoverResult{Peers: peers, DiscoveryTime: elapsed}, nil
}

// GetCachedPeers snapshots the realtime peer cache.
func (h *DiscoverHandler) GetCachedPeers() []domain.PeerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.PeerInfo, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolvePeers returns the realtime cache, seeding it from the
// collaborator's own record cache when no discovery has run yet. Name
// resolution before the first scan works this way.
func (h *DiscoverHandler) ResolvePeers(ctx context.Context) []domain.PeerInfo {
	h.mu.RLock()
	empty := len(h.peers) == 0
	h.mu.RUnlock()
	if empty {
		for _, rec := range h.discovery.CachedPeers() {
			peer := h.peerFromRecord(ctx, rec, domain.Connected)
			h.upsert(peer)
		}
	}
	return h.GetCachedPeers()
}

// StartContinuousDiscovery subscribes to the collaborator's event stream in
// the background. Startup errors surface; per-event errors are logged and
// the stream continues.
func (h *DiscoverHandler) StartContinuousDiscovery(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	events, err := h.discovery.StartDiscovery(runCtx)
	if err != nil {
		cancel()
		h.mu.Unlock()
		return apperrors.Discovery("start continuous discovery: " + err.Error())
	}
	h.cancel = cancel
	h.running = true
	h.mu.Unlock()

	go h.consume(runCtx, events)
	return nil
}

// StopContinuousDiscovery cancels the background subscription.
func (h *DiscoverHandler) StopContinuousDiscovery() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.running = false
	h.mu.Unlock()
}

func (h *DiscoverHandler) consume(ctx context.Context, events <-chan DiscoveryEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.handleEvent(ctx, ev)
		}
	}
}

func (h *DiscoverHandler) handleEvent(ctx context.Context, ev DiscoveryEvent) {
	switch ev.Kind {
	case PeerDiscovered:
		peer := h.peerFromRecord(ctx, ev.Record, domain.Connected)
		if fresh := h.upsert(peer); fresh {
			select {
			case h.newPeerCh <- peer:
			default:
			}
		}
	case PeerLost:
		h.markLost(domain.ParsePeerID(ev.PeerID))
	case StrategyChanged:
		h.logger.Debug("discovery strategy changed", zap.String("detail", ev.Message))
	case DiscoveryError:
		h.logger.Warn("discovery event error", zap.String("message", ev.Message))
	}
}

// upsert stores the peer by identity and reports whether the identity was
// new.
func (h *DiscoverHandler) upsert(peer domain.PeerInfo) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, known := h.peers[peer.ID]
	h.peers[peer.ID] = peer
	return !known
}

func (h *DiscoverHandler) markLost(id domain.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peer, ok := h.peers[id]
	if !ok {
		return
	}
	now := h.clock.Now()
	peer.ConnectionStatus = domain.Disconnected
	peer.LastSeen = &now
	h.peers[id] = peer
}

func (h *DiscoverHandler) peerFromRecord(ctx context.Context, rec ServiceRecord, status domain.ConnectionStatus) domain.PeerInfo {
	id := domain.ParsePeerID(rec.PeerID)
	name := rec.Capabilities["name"]
	if name == "" {
		name = rec.PeerID
	}
	deviceType := rec.Capabilities["device_type"]
	if deviceType == "" {
		deviceType = "unknown"
	}
	var capabilities []string
	if raw := rec.Capabilities["capabilities"]; raw != "" {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				capabilities = append(capabilities, c)
			}
		}
	}

	trust := domain.Untrusted
	if got, err := h.gate.TrustStatus(ctx, id); err == nil {
		trust = got
	} else {
		h.logger.Debug("trust lookup failed", zap.String("peer", rec.PeerID), zap.Error(err))
	}
	now := h.clock.Now()
	return domain.PeerInfo{
		ID:               id,
		Name:             name,
		DeviceType:       deviceType,
		ConnectionStatus: status,
		Capabilities:     capabilities,
		TrustStatus:      trust,
		LastSeen:         &now,
	}
}

func matchesFilters(peer domain.PeerInfo, filters DiscoverFilters) bool {
	if filters.DeviceType != "" &&
		!strings.Contains(strings.ToLower(peer.DeviceType), strings.ToLower(filters.DeviceType)) {
		return false
	}
	if filters.Name != "" &&
		!strings.Contains(strings.ToLower(peer.Name), strings.ToLower(filters.Name)) {
		return false
	}
	return true
}
