package collab

import (
	"context"
	"os"
	"sync"
	"time"

	"kizuna/internal/handlers"
)

// StaticDiscovery serves a fixed peer set: the local device plus any peers
// seeded at construction. It stands in for an mDNS/DHT engine, feeding the
// same record and event shapes.
type StaticDiscovery struct {
	mu      sync.Mutex
	records []handlers.ServiceRecord
	subs    []chan handlers.DiscoveryEvent
}

func NewStaticDiscovery(seed []handlers.ServiceRecord) *StaticDiscovery {
	return &StaticDiscovery{records: seed}
}

// NewSelfDiscovery seeds discovery with this device only, so a fresh install
// always finds at least itself.
func NewSelfDiscovery(deviceID string) *StaticDiscovery {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return NewStaticDiscovery([]handlers.ServiceRecord{{
		PeerID:    deviceID,
		Addresses: []string{"127.0.0.1"},
		Capabilities: map[string]string{
			"name":         hostname,
			"device_type":  "desktop",
			"capabilities": "file_transfer,clipboard,camera_stream,command_execution",
		},
	}})
}

func (d *StaticDiscovery) Initialize(context.Context) error { return nil }

func (d *StaticDiscovery) DiscoverOnce(ctx context.Context, timeout time.Duration) ([]handlers.ServiceRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]handlers.ServiceRecord(nil), d.records...), nil
}

func (d *StaticDiscovery) StartDiscovery(ctx context.Context) (<-chan handlers.DiscoveryEvent, error) {
	ch := make(chan handlers.DiscoveryEvent, 16)
	d.mu.Lock()
	d.subs = append(d.subs, ch)
	seed := append([]handlers.ServiceRecord(nil), d.records...)
	d.mu.Unlock()

	go func() {
		for _, rec := range seed {
			select {
			case ch <- handlers.DiscoveryEvent{Kind: handlers.PeerDiscovered, Record: rec}:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return ch, nil
}

// Announce injects a peer at runtime; tests and future engines use it to
// simulate arrival.
func (d *StaticDiscovery) Announce(rec handlers.ServiceRecord) {
	d.mu.Lock()
	d.records = append(d.records, rec)
	subs := append([]chan handlers.DiscoveryEvent(nil), d.subs...)
	d.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- handlers.DiscoveryEvent{Kind: handlers.PeerDiscovered, Record: rec}:
		default:
		}
	}
}

func (d *StaticDiscovery) Shutdown(context.Context) error { return nil }

func (d *StaticDiscovery) CachedPeers() []handlers.ServiceRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]handlers.ServiceRecord(nil), d.records...)
}
