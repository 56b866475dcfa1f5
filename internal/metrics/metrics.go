package metrics

import "sync"

// Counter names used by the relay. Names are intentionally simple; a
// follow-up metrics task can standardize and export these via OTel.
const (
	ParticipantsConnected    = "participants_connected"
	ParticipantsDisconnected = "participants_disconnected"
	RoomsCreated             = "rooms_created"
	RoomsJoined              = "rooms_joined"
	RoomsLeft                = "rooms_left"
	MessagesRouted           = "messages_routed"
	MessagesDroppedNoTarget  = "messages_dropped_no_target"
	MessagesDroppedSlowPeer  = "messages_dropped_slow_peer"
	MessagesRejected         = "messages_rejected"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It keeps routing and membership logic testable without a metrics
// backend while still being scrapeable (see PrometheusHandler).
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
