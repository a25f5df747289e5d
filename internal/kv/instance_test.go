package kv

import (
	"testing"

	"ringkv/internal/address"
	"ringkv/internal/config"
	"ringkv/internal/logsink"
)

func testInstance(t *testing.T, self address.Address) (*Instance, *logsink.Recorder, *[]sentFrame) {
	t.Helper()
	params := config.Default()
	params.RingModulus = 512
	params.TxnTimeout = 5
	sink := logsink.NewRecorder()
	var sent []sentFrame
	send := func(to address.Address, payload []byte) {
		m, err := Decode(payload)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		sent = append(sent, sentFrame{to: to, msg: m})
	}
	in := NewInstance(self, params, NewMemBackend(), sink, send)
	return in, sink, &sent
}

func TestInstanceNeighbourhoodInitDoesNotStabilizeOnFirstThreeMemberTick(t *testing.T) {
	self := address.New(1, 0)
	in, _, sent := testInstance(t, self)
	in.Store().Create("k", "v", 0) // non-empty store, would trigger stabilize if not gated

	members := []address.Address{self, address.New(2, 0), address.New(3, 0)}
	in.Tick(0, members)

	if len(*sent) != 0 {
		t.Fatalf("the first ring-reaches-3-members tick must only initialize, not stabilize, got %+v", *sent)
	}
	if len(in.Ring()) != 3 {
		t.Fatalf("want a 3-member ring installed, got %d", len(in.Ring()))
	}
}

func TestInstanceStabilizesOnSubsequentRingChange(t *testing.T) {
	self := address.New(1, 0)
	in, _, sent := testInstance(t, self)

	members := []address.Address{self, address.New(2, 0), address.New(3, 0), address.New(4, 0), address.New(5, 0)}
	in.Tick(0, members)

	in.Store().Create("some-key", "v", 0)
	// populate a role the store needs to have something to stabilize.
	// (Create above used role 0 = PRIMARY implicitly via numeric literal.)

	changedMembers := members[:len(members)-1] // drop the last member
	in.Tick(1, changedMembers)

	if len(in.Ring()) != 4 {
		t.Fatalf("want ring rebuilt to 4 members, got %d", len(in.Ring()))
	}
	// Whether any message was actually sent depends on whether self owns
	// some key as primary after the membership shrink; what matters is that
	// stabilization was attempted without panicking and the ring updated.
	_ = sent
}

func TestInstanceRoutesRequestsToServerAndRepliesToCoordinator(t *testing.T) {
	self := address.New(1, 0)
	in, sink, sent := testInstance(t, self)
	members := []address.Address{self, address.New(2, 0), address.New(3, 0)}
	in.Tick(0, members)

	from := address.New(2, 0)
	createReq := Encode(Message{TransID: 1, From: from, Type: Create, Key: "k", Value: "v"})
	if err := in.HandleMessage(createReq); err != nil {
		t.Fatalf("HandleMessage(create request): %v", err)
	}
	if len(sink.Ops) != 1 || sink.Ops[0].Kind != logsink.OpCreate {
		t.Fatalf("want server-side CREATE event logged, got %+v", sink.Ops)
	}
	if len(*sent) != 1 || (*sent)[0].msg.Type != WriteReply {
		t.Fatalf("want a WRITE_REPLY sent back, got %+v", *sent)
	}

	in.Create("other-key", "v2", 2)
	if len(*sent) < 2 {
		t.Fatalf("Create should fan out CREATE requests once ring has 3+ members")
	}
}
