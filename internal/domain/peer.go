package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PeerID is the stable identity of a remote device.
type PeerID = uuid.UUID

// peerIDSpace namespaces collaborator-supplied opaque ids when they are not
// already UUIDs, keeping the string→PeerID mapping stable across runs.
var peerIDSpace = uuid.MustParse("9a1b7c7e-5d0a-4f11-9f3e-1d2c3b4a5968")

// ParsePeerID maps a collaborator peer identifier to the core PeerID. UUID
// strings map to themselves; any other opaque id maps to its UUIDv5 in the
// kizuna namespace.
func ParsePeerID(raw string) PeerID {
	raw = strings.TrimSpace(raw)
	if id, err := uuid.Parse(raw); err == nil {
		return id
	}
	return uuid.NewSHA1(peerIDSpace, []byte(raw))
}

type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Connecting   ConnectionStatus = "connecting"
	Disconnected ConnectionStatus = "disconnected"
	ConnError    ConnectionStatus = "error"
)

type TrustStatus string

const (
	Trusted   TrustStatus = "trusted"
	Untrusted TrustStatus = "untrusted"
	Blocked   TrustStatus = "blocked"
)

// PeerInfo is the observed state of a remote device. ID is immutable; every
// other field tracks the latest observation.
type PeerInfo struct {
	ID               PeerID           `json:"id"`
	Name             string           `json:"name"`
	DeviceType       string           `json:"device_type"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	Capabilities     []string         `json:"capabilities"`
	TrustStatus      TrustStatus      `json:"trust_status"`
	LastSeen         *time.Time       `json:"last_seen,omitempty"`
}

// HasCapability reports whether the peer advertised the named capability.
func (p PeerInfo) HasCapability(name string) bool {
	for _, c := range p.Capabilities {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}
