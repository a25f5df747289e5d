// Package membership implements the gossip-style failure detector of
// spec §4.1: heartbeat accounting, gossip fan-out, suspicion/cleanup
// timing. Grounded on the original course assignment's MP1Node
// (original_source/mp2/MP1Node.cpp) and restructured in the teacher
// repo's manager-with-callbacks idiom (internal/gossip/gossip.go in
// AryanBagade-dynamoDB), but replacing that teacher's SWIM-style
// probe/suspicion machinery with the simpler timeout-only protocol
// spec.md actually specifies.
package membership

import (
	"math/rand"

	"ringkv/internal/address"
	"ringkv/internal/config"
	"ringkv/internal/logsink"
)

// SendFunc delivers a wire frame to a peer. The detector never touches a
// transport directly; Node wires this to transport.Medium.Send.
type SendFunc func(to address.Address, payload []byte)

// Detector owns one node's membership table and drives its tick.
type Detector struct {
	self   address.Address
	table  *Table
	params config.Params
	sink   logsink.Sink
	send   SendFunc
	rng    *rand.Rand

	inGroup     bool
	pingCounter int64
}

// New builds a Detector for self. The caller must call Bootstrap once
// before the first Tick.
func New(self address.Address, params config.Params, sink logsink.Sink, send SendFunc, seed int64) *Detector {
	return &Detector{
		self:   self,
		table:  NewTable(self, 0),
		params: params,
		sink:   sink,
		send:   send,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// InGroup reports whether this node considers itself part of the cluster.
func (d *Detector) InGroup() bool { return d.inGroup }

// Table exposes the underlying membership table (read-mostly; tests use it,
// while the ring is built from LiveAddresses).
func (d *Detector) Table() *Table { return d.table }

// Bootstrap implements spec §4.1 "Bootstrap (join)". now is the tick the
// node starts at.
func (d *Detector) Bootstrap(now int64) {
	if d.self == d.params.Introducer {
		d.inGroup = true
		return
	}
	d.send(d.params.Introducer, EncodeJoinRequest(d.self, d.table.Self().Heartbeat))
}

// HandleMessage decodes and dispatches one inbound membership frame.
func (d *Detector) HandleMessage(raw []byte, now int64) error {
	msg, err := Decode(raw)
	if err != nil {
		// spec §7: unrecognised/unparseable wire messages are not fatal;
		// the error is returned and the message dropped. Node discards the
		// error without logging it.
		return err
	}
	switch msg.Kind {
	case KindJoinRequest:
		d.handleJoinRequest(msg, now)
	case KindJoinReply:
		d.handleJoinReply(msg, now)
	case KindGossip:
		d.handleGossip(msg, now)
	}
	return nil
}

// handleJoinRequest: "The introducer, on receipt of JOIN_REQUEST,
// increments its own heartbeat, inserts the requester, and replies."
// Implemented generically so any in-group node can field one.
func (d *Detector) handleJoinRequest(msg Message, now int64) {
	self := d.table.Self()
	self.Heartbeat++
	self.LocalTimestamp = now
	d.table.SetSelf(self)

	if d.table.Upsert(Entry{ID: msg.From.ID, Port: msg.From.Port, Heartbeat: msg.Heartbeat, LocalTimestamp: now}) {
		d.sink.NodeJoined(msg.From, now)
	}
	d.send(msg.From, EncodeJoinReply(d.self, self.Heartbeat))
}

// handleJoinReply: mark self in-group and insert the replier.
func (d *Detector) handleJoinReply(msg Message, now int64) {
	d.inGroup = true
	if d.table.Upsert(Entry{ID: msg.From.ID, Port: msg.From.Port, Heartbeat: msg.Heartbeat, LocalTimestamp: now}) {
		d.sink.NodeJoined(msg.From, now)
	}
}

// handleGossip implements spec §4.1's gossip merge rule verbatim,
// including the sender-equals-peer clause gated behind
// params.AcceptHeartbeatFromSender (spec §9, the "preferred" variant).
func (d *Detector) handleGossip(msg Message, now int64) {
	for _, ge := range msg.Entries {
		addr := ge.Addr()
		if addr == d.self {
			continue
		}
		cur, ok := d.table.Get(addr)
		if !ok {
			d.table.Upsert(Entry{ID: ge.ID, Port: ge.Port, Heartbeat: ge.Heartbeat, LocalTimestamp: now})
			d.sink.NodeJoined(addr, now)
			continue
		}
		notExpired := now-cur.LocalTimestamp <= d.params.FailTimeout
		senderIsPeer := d.params.AcceptHeartbeatFromSender && msg.From == addr
		if (notExpired || senderIsPeer) && ge.Heartbeat > cur.Heartbeat {
			d.table.Upsert(Entry{ID: cur.ID, Port: cur.Port, Heartbeat: ge.Heartbeat, LocalTimestamp: now})
		}
	}
}

// Tick implements spec §4.1's periodic tick: gossip fan-out (gated by the
// ping counter) followed by cleanup ageing. Returns whether cleanup removed
// any entry; entries added by inbound messages are not reported here.
func (d *Detector) Tick(now int64) bool {
	if !d.inGroup {
		return false
	}
	changed := false

	if d.pingCounter == 0 {
		self := d.table.Self()
		self.Heartbeat++
		self.LocalTimestamp = now
		d.table.SetSelf(self)

		d.gossipRound(now)
		d.pingCounter = d.params.GossipPeriod
	} else {
		d.pingCounter--
	}

	for _, e := range d.table.Entries() {
		addr := e.Addr()
		if addr == d.self {
			continue
		}
		if now-e.LocalTimestamp > d.params.CleanupTimeout {
			d.table.Remove(addr)
			d.sink.NodeRemoved(addr, now)
			changed = true
		}
	}
	return changed
}

// activeSubset returns entries refreshed within T_FAIL of now (spec:
// "compute the active subset of the table").
func (d *Detector) activeSubset(now int64) []Entry {
	active := make([]Entry, 0, d.table.Len())
	for _, e := range d.table.Entries() {
		if now-e.LocalTimestamp <= d.params.FailTimeout {
			active = append(active, e)
		}
	}
	return active
}

func (d *Detector) gossipRound(now int64) {
	active := d.activeSubset(now)
	if len(active) == 0 {
		return
	}

	entries := make([]GossipEntry, len(active))
	for i, e := range active {
		entries[i] = GossipEntry{ID: e.ID, Port: e.Port, Heartbeat: e.Heartbeat}
	}
	payload := EncodeGossip(d.self, entries)

	shuffled := make([]Entry, len(active))
	copy(shuffled, active)
	d.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	n := int(d.params.GossipFraction * float64(len(active)))
	sent := 0
	for _, e := range shuffled {
		if sent >= n {
			break
		}
		addr := e.Addr()
		if addr == d.self {
			continue
		}
		d.send(addr, payload)
		sent++
	}
}

// LiveAddresses publishes the node's current membership view to the ring
// layer (spec §2: "Publishes the live membership to component (2)"). A
// peer is live until T_CLEANUP ages it out of the table entirely.
func (d *Detector) LiveAddresses() []address.Address {
	return d.table.Addresses()
}
