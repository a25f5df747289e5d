// Package transport is the simulated network medium spec.md names as an
// external collaborator ("the simulated network transport (delivers byte
// buffers between addresses)"). The core never imports this package's
// concrete type, only the Medium interface, so a real socket transport
// could be substituted without touching membership/kv/ring code.
package transport

import (
	"math/rand"
	"sync"

	"ringkv/internal/address"
)

// Channel selects one of the two per-node logical queues spec §6 requires
// ("two separate logical channels per node ... so that one queue's backlog
// does not starve the other").
type Channel int

const (
	Membership Channel = iota
	KV
)

type mailKey struct {
	addr address.Address
	ch   Channel
}

// Medium is the transport seam the core depends on.
type Medium interface {
	// Send enqueues payload for delivery to `to` on the given channel.
	// Delivery is not guaranteed: an implementation may drop the message.
	Send(from, to address.Address, ch Channel, payload []byte)
	// Drain returns and clears every message ready for `addr` on `ch`.
	// A message sent during tick t is never returned by Drain until
	// Advance has been called at least once since it was sent.
	Drain(addr address.Address, ch Channel) [][]byte
	// Advance promotes staged (in-flight) messages to deliverable and
	// should be called exactly once per scheduler tick.
	Advance()
}

// InProcess is a goroutine-safe, best-effort Medium for a cluster of nodes
// sharing one process. It reorders nothing itself (Go's map iteration order
// over per-address queues already makes cross-peer delivery order
// non-deterministic at the caller level) but it does model the tick-delay
// and packet loss spec §5 requires.
type InProcess struct {
	mu      sync.Mutex
	staged  map[mailKey][][]byte
	ready   map[mailKey][][]byte
	lossPct float64
	rng     *rand.Rand
}

// NewInProcess builds a medium that drops a fraction lossPct (in [0,1)) of
// sent messages. lossPct=0 gives a reliable-but-reordering-free medium
// suitable for deterministic tests.
func NewInProcess(lossPct float64, seed int64) *InProcess {
	return &InProcess{
		staged:  make(map[mailKey][][]byte),
		ready:   make(map[mailKey][][]byte),
		lossPct: lossPct,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (m *InProcess) Send(from, to address.Address, ch Channel, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lossPct > 0 && m.rng.Float64() < m.lossPct {
		return
	}
	key := mailKey{addr: to, ch: ch}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.staged[key] = append(m.staged[key], buf)
}

func (m *InProcess) Drain(addr address.Address, ch Channel) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mailKey{addr: addr, ch: ch}
	msgs := m.ready[key]
	delete(m.ready, key)
	return msgs
}

func (m *InProcess) Advance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, msgs := range m.staged {
		m.ready[key] = append(m.ready[key], msgs...)
	}
	m.staged = make(map[mailKey][][]byte)
}
