// Package kv implements the ring-based replicated KV layer of spec §4.3 and
// §4.4: the client-side quorum coordinator and the server-side local
// operations. Grounded on the teacher's internal/replication/replicator.go
// (health-monitoring + quorum bookkeeping shape) and the original course
// assignment's MP2Node::clientCreate/clientRead/... (original_source/mp2/
// MP2Node.cpp), but replaced with spec.md's exact quorum/timeout semantics.
package kv

import (
	"ringkv/internal/address"
	"ringkv/internal/config"
	"ringkv/internal/logsink"
	"ringkv/internal/ring"
)

// SendFunc delivers a wire frame to a peer, wired to transport.Medium.Send
// by Node.
type SendFunc func(to address.Address, payload []byte)

// Coordinator drives client-facing create/read/update/delete operations
// and tracks their pending transactions (spec §4.3).
type Coordinator struct {
	self   address.Address
	params config.Params
	sink   logsink.Sink
	send   SendFunc

	nextTxnID int64
	writes    map[int64]*writeTxn
	reads     map[int64]*readTxn

	ringSnapshot []ring.Member
}

// NewCoordinator builds a Coordinator for self.
func NewCoordinator(self address.Address, params config.Params, sink logsink.Sink, send SendFunc) *Coordinator {
	return &Coordinator{
		self:   self,
		params: params,
		sink:   sink,
		send:   send,
		writes: make(map[int64]*writeTxn),
		reads:  make(map[int64]*readTxn),
	}
}

// SetRing installs the current ring snapshot, refreshed once per KV tick
// by Instance before any client operation is issued this tick.
func (c *Coordinator) SetRing(r []ring.Member) { c.ringSnapshot = r }

func (c *Coordinator) allocTxnID() int64 {
	id := c.nextTxnID
	c.nextTxnID++
	return id
}

func (c *Coordinator) replicasFor(key string) []ring.Member {
	return ring.Place(c.ringSnapshot, ring.HashKey(key, c.params.RingModulus))
}

// Create issues a replicated CREATE. No-op if fewer than 3 nodes are on the
// ring (spec §4.2).
func (c *Coordinator) Create(key, value string, now int64) {
	c.write(key, value, Create, now)
}

// Update issues a replicated UPDATE.
func (c *Coordinator) Update(key, value string, now int64) {
	c.write(key, value, Update, now)
}

// Delete issues a replicated DELETE.
func (c *Coordinator) Delete(key string, now int64) {
	replicas := c.replicasFor(key)
	if replicas == nil {
		return
	}
	id := c.allocTxnID()
	c.writes[id] = newWriteTxn(id, key, "", Delete, now)
	for _, m := range replicas {
		c.send(m.Addr, Encode(Message{TransID: id, From: c.self, Type: Delete, Key: key}))
	}
}

// Read issues a replicated READ.
func (c *Coordinator) Read(key string, now int64) {
	replicas := c.replicasFor(key)
	if replicas == nil {
		return
	}
	id := c.allocTxnID()
	c.reads[id] = newReadTxn(id, key, now)
	for _, m := range replicas {
		c.send(m.Addr, Encode(Message{TransID: id, From: c.self, Type: Read, Key: key}))
	}
}

func (c *Coordinator) write(key, value string, kind MessageType, now int64) {
	replicas := c.replicasFor(key)
	if replicas == nil {
		return
	}
	id := c.allocTxnID()
	c.writes[id] = newWriteTxn(id, key, value, kind, now)
	for i, m := range replicas {
		c.send(m.Addr, Encode(Message{TransID: id, From: c.self, Type: kind, Key: key, Value: value, Role: ring.Role(i)}))
	}
}

// HandleReply decodes and dispatches an inbound WRITE_REPLY/READ_REPLY.
// Unknown transaction ids are silently discarded (spec §7: "message arrives
// for an unknown transaction id").
func (c *Coordinator) HandleReply(raw []byte) error {
	msg, err := Decode(raw)
	if err != nil {
		return err
	}
	switch msg.Type {
	case WriteReply:
		c.handleWriteReply(msg)
	case ReadReply:
		c.handleReadReply(msg)
	}
	return nil
}

func (c *Coordinator) handleWriteReply(msg Message) {
	txn, ok := c.writes[msg.TransID]
	if !ok {
		return
	}
	if msg.Success {
		txn.recordSuccess()
	} else {
		txn.recordFailure()
	}

	if !txn.resolved {
		if txn.quorumSucceeded() {
			txn.resolved = true
			c.sink.Operation(logsink.OperationEvent{Kind: opKind(txn.kind), Outcome: logsink.OutcomeSuccess, IsCoordinator: true, TransID: txn.id, Key: txn.key, Value: txn.value})
		} else if txn.quorumFailed() {
			txn.resolved = true
			c.sink.Operation(logsink.OperationEvent{Kind: opKind(txn.kind), Outcome: logsink.OutcomeFail, IsCoordinator: true, TransID: txn.id, Key: txn.key})
		}
	}
	if txn.allRepliesReceived() {
		delete(c.writes, txn.id)
	}
}

func (c *Coordinator) handleReadReply(msg Message) {
	txn, ok := c.reads[msg.TransID]
	if !ok {
		return
	}
	txn.recordValue(msg.Value)

	if !txn.resolved {
		if v, reached := txn.quorumValue(); reached {
			txn.resolved = true
			if v == "" {
				c.sink.Operation(logsink.OperationEvent{Kind: logsink.OpRead, Outcome: logsink.OutcomeFail, IsCoordinator: true, TransID: txn.id, Key: txn.key})
			} else {
				c.sink.Operation(logsink.OperationEvent{Kind: logsink.OpRead, Outcome: logsink.OutcomeSuccess, IsCoordinator: true, TransID: txn.id, Key: txn.key, Value: v})
			}
		}
	}
	if txn.allRepliesReceived() {
		delete(c.reads, txn.id)
	}
}

// Tick expires transactions past their deadline (spec §4.3 "Timeout
// policy"), logging a FAIL for any that had not yet reached quorum.
func (c *Coordinator) Tick(now int64) {
	for id, txn := range c.writes {
		if now-txn.startTick < c.params.TxnTimeout {
			continue
		}
		if !txn.resolved {
			c.sink.Operation(logsink.OperationEvent{Kind: opKind(txn.kind), Outcome: logsink.OutcomeFail, IsCoordinator: true, TransID: txn.id, Key: txn.key})
		}
		delete(c.writes, id)
	}
	for id, txn := range c.reads {
		if now-txn.startTick < c.params.TxnTimeout {
			continue
		}
		if !txn.resolved {
			c.sink.Operation(logsink.OperationEvent{Kind: logsink.OpRead, Outcome: logsink.OutcomeFail, IsCoordinator: true, TransID: txn.id, Key: txn.key})
		}
		delete(c.reads, id)
	}
}

func opKind(t MessageType) logsink.OpKind {
	switch t {
	case Create:
		return logsink.OpCreate
	case Update:
		return logsink.OpUpdate
	case Delete:
		return logsink.OpDelete
	default:
		return logsink.OpRead
	}
}
