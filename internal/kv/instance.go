// Instance wires together the ring, coordinator, server and stabilizer for
// one node's KV layer, implementing the per-tick ordering spec §5
// describes: drain inbound queue, rebuild the ring from the live
// membership view, stabilize if it changed, then expire transactions.
package kv

import (
	"ringkv/internal/address"
	"ringkv/internal/config"
	"ringkv/internal/logsink"
	"ringkv/internal/ring"
)

// Instance is the per-node KV layer.
type Instance struct {
	self   address.Address
	params config.Params

	store       Backend
	Coordinator *Coordinator
	server      *Server

	currentRing       []ring.Member
	neighbourhoodInit bool
}

// NewInstance builds a KV Instance over store, sending wire frames through
// send and logging through sink.
func NewInstance(self address.Address, params config.Params, store Backend, sink logsink.Sink, send SendFunc) *Instance {
	return &Instance{
		self:        self,
		params:      params,
		store:       store,
		Coordinator: NewCoordinator(self, params, sink, send),
		server:      NewServer(self, store, sink, send),
	}
}

// HandleMessage decodes one inbound KV frame and routes it to the server
// (request-side message types) or the coordinator (reply types).
func (in *Instance) HandleMessage(raw []byte) error {
	msg, err := Decode(raw)
	if err != nil {
		return err
	}
	switch msg.Type {
	case Create, Read, Update, Delete:
		return in.server.HandleMessage(raw)
	case WriteReply, ReadReply:
		return in.Coordinator.HandleReply(raw)
	}
	return nil
}

// Create, Read, Update, Delete forward to the coordinator.
func (in *Instance) Create(key, value string, now int64) { in.Coordinator.Create(key, value, now) }
func (in *Instance) Read(key string, now int64)           { in.Coordinator.Read(key, now) }
func (in *Instance) Update(key, value string, now int64)  { in.Coordinator.Update(key, value, now) }
func (in *Instance) Delete(key string, now int64)         { in.Coordinator.Delete(key, now) }

// Tick implements spec §4.2/§4.5's ring-rebuild-then-stabilize step,
// followed by coordinator transaction timeout expiry (spec §4.3).
func (in *Instance) Tick(now int64, liveMembers []address.Address) {
	newRing := ring.Build(liveMembers, in.params.RingModulus)
	changed := ring.Changed(in.currentRing, newRing)
	oldRing := in.currentRing
	in.currentRing = newRing
	in.Coordinator.SetRing(newRing)

	if !in.neighbourhoodInit {
		if len(newRing) >= 3 {
			in.neighbourhoodInit = true
		}
	} else if changed && in.store.Len() > 0 {
		Stabilize(in.self, in.store, in.server.send, oldRing, newRing, in.params.RingModulus)
	}

	in.Coordinator.Tick(now)
}

// Ring exposes the current ring snapshot, mainly for observability/tests.
func (in *Instance) Ring() []ring.Member { return in.currentRing }

// Store exposes the local backend, mainly for observability/tests.
func (in *Instance) Store() Backend { return in.store }
