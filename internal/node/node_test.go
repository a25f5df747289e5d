package node

import (
	"testing"

	"ringkv/internal/address"
	"ringkv/internal/config"
	"ringkv/internal/kv"
	"ringkv/internal/logsink"
	"ringkv/internal/membership"
	"ringkv/internal/transport"
)

func TestNonIntroducerBootstrapSendsJoinRequest(t *testing.T) {
	params := config.Default()
	params.Introducer = address.New(1, 0)
	self := address.New(2, 0)

	medium := transport.NewInProcess(0, 1)
	sink := logsink.NewRecorder()
	n := New(self, params, sink, medium, kv.NewMemBackend(), 1)

	n.Bootstrap(0)
	medium.Advance()

	msgs := medium.Drain(params.Introducer, transport.Membership)
	if len(msgs) != 1 {
		t.Fatalf("want 1 JOIN_REQUEST delivered to introducer, got %d", len(msgs))
	}
	if n.Detector.InGroup() {
		t.Fatalf("non-introducer must not be in-group before a JOIN_REPLY arrives")
	}
}

func TestIntroducerBootstrapIsImmediatelyInGroup(t *testing.T) {
	params := config.Default()
	params.Introducer = address.New(1, 0)

	medium := transport.NewInProcess(0, 1)
	sink := logsink.NewRecorder()
	n := New(params.Introducer, params, sink, medium, kv.NewMemBackend(), 1)

	n.Bootstrap(0)
	if !n.Detector.InGroup() {
		t.Fatalf("introducer should be in-group immediately")
	}
}

func TestTickGatesKVDrainBehindGroupMembership(t *testing.T) {
	params := config.Default()
	params.Introducer = address.New(1, 0)
	self := address.New(2, 0)

	medium := transport.NewInProcess(0, 1)
	sink := logsink.NewRecorder()
	n := New(self, params, sink, medium, kv.NewMemBackend(), 1)
	n.Bootstrap(0)

	// Stage a READ_REPLY frame for this node's KV layer before it has
	// joined the group.
	from := address.New(3, 0)
	readReply := kv.Encode(kv.Message{TransID: 0, From: from, Type: kv.ReadReply, Value: "v"})
	medium.Send(from, self, transport.KV, readReply)
	medium.Advance()

	n.Tick(1)
	if n.Detector.InGroup() {
		t.Fatalf("node should not be in-group without a JOIN_REPLY")
	}
	if len(medium.Drain(self, transport.KV)) != 1 {
		t.Fatalf("KV frame must remain undrained while the node has not joined the group")
	}

	// Re-stage the reply, then deliver a JOIN_REPLY and re-tick: now the
	// KV drain must run.
	medium.Send(from, self, transport.KV, readReply)
	joinReply := membership.EncodeJoinReply(params.Introducer, 1)
	medium.Send(params.Introducer, self, transport.Membership, joinReply)
	medium.Advance()

	n.Tick(2)
	if !n.Detector.InGroup() {
		t.Fatalf("node should be in-group after a JOIN_REPLY")
	}
	if len(medium.Drain(self, transport.KV)) != 0 {
		t.Fatalf("Tick should have drained the pending KV frame once in-group")
	}
}
