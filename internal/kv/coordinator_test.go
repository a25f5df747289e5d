package kv

import (
	"testing"

	"ringkv/internal/address"
	"ringkv/internal/config"
	"ringkv/internal/logsink"
	"ringkv/internal/ring"
)

type sentFrame struct {
	to  address.Address
	msg Message
}

func testCoordinator(t *testing.T, nMembers int) (*Coordinator, *logsink.Recorder, *[]sentFrame) {
	t.Helper()
	self := address.New(1, 100)
	params := config.Default()
	params.RingModulus = 512
	params.TxnTimeout = 5
	sink := logsink.NewRecorder()

	var sent []sentFrame
	send := func(to address.Address, payload []byte) {
		m, err := Decode(payload)
		if err != nil {
			t.Fatalf("Decode outgoing frame: %v", err)
		}
		sent = append(sent, sentFrame{to: to, msg: m})
	}

	c := NewCoordinator(self, params, sink, send)

	members := make([]address.Address, nMembers)
	members[0] = self
	for i := 1; i < nMembers; i++ {
		members[i] = address.New(uint32(i+1), 100)
	}
	c.SetRing(ring.Build(members, params.RingModulus))
	return c, sink, &sent
}

func TestCoordinatorCreateBelowThreeNodesIsNoOp(t *testing.T) {
	c, _, sent := testCoordinator(t, 2)
	c.Create("k", "v", 0)
	if len(*sent) != 0 {
		t.Fatalf("want no messages sent with <3 ring members, got %d", len(*sent))
	}
}

func TestCoordinatorCreateSendsToThreeReplicasWithDistinctRoles(t *testing.T) {
	c, _, sent := testCoordinator(t, 5)
	c.Create("k", "v", 0)
	if len(*sent) != 3 {
		t.Fatalf("want 3 outgoing CREATE frames, got %d", len(*sent))
	}
	roles := map[ring.Role]bool{}
	for _, f := range *sent {
		if f.msg.Type != Create || f.msg.Key != "k" || f.msg.Value != "v" {
			t.Fatalf("unexpected frame: %+v", f.msg)
		}
		roles[f.msg.Role] = true
	}
	if len(roles) != 3 {
		t.Fatalf("want 3 distinct roles assigned, got %v", roles)
	}
}

func TestCoordinatorWriteQuorumSuccessLogsOnceAtTwoOfThree(t *testing.T) {
	c, sink, sent := testCoordinator(t, 5)
	c.Create("k", "v", 0)
	txnID := (*sent)[0].msg.TransID

	c.handleWriteReply(Message{TransID: txnID, Success: true})
	if len(sink.Ops) != 0 {
		t.Fatalf("should not log before quorum, got %d events", len(sink.Ops))
	}
	c.handleWriteReply(Message{TransID: txnID, Success: true})
	if len(sink.Ops) != 1 || sink.Ops[0].Outcome != logsink.OutcomeSuccess {
		t.Fatalf("want exactly one SUCCESS event at 2-of-3, got %+v", sink.Ops)
	}
	// A third reply (even a failure) must not produce a second log.
	c.handleWriteReply(Message{TransID: txnID, Success: false})
	if len(sink.Ops) != 1 {
		t.Fatalf("want exactly one logged event total, got %d", len(sink.Ops))
	}
}

func TestCoordinatorWriteQuorumFailureLogsOnceAtTwoFailures(t *testing.T) {
	c, sink, sent := testCoordinator(t, 5)
	c.Create("k", "v", 0)
	txnID := (*sent)[0].msg.TransID

	c.handleWriteReply(Message{TransID: txnID, Success: false})
	c.handleWriteReply(Message{TransID: txnID, Success: false})
	if len(sink.Ops) != 1 || sink.Ops[0].Outcome != logsink.OutcomeFail {
		t.Fatalf("want exactly one FAIL event at 2 failures, got %+v", sink.Ops)
	}
}

func TestCoordinatorReadQuorumTalliesValueMultiset(t *testing.T) {
	c, sink, sent := testCoordinator(t, 5)
	c.Read("k", 0)
	txnID := (*sent)[0].msg.TransID

	c.handleReadReply(Message{TransID: txnID, Value: "v1"})
	c.handleReadReply(Message{TransID: txnID, Value: "v2"})
	if len(sink.Ops) != 0 {
		t.Fatalf("split values should not reach quorum yet, got %+v", sink.Ops)
	}
	c.handleReadReply(Message{TransID: txnID, Value: "v1"})
	if len(sink.Ops) != 1 || sink.Ops[0].Outcome != logsink.OutcomeSuccess || sink.Ops[0].Value != "v1" {
		t.Fatalf("want SUCCESS with value v1, got %+v", sink.Ops)
	}
}

func TestCoordinatorUnknownTransactionIDIsIgnored(t *testing.T) {
	c, sink, _ := testCoordinator(t, 5)
	c.handleWriteReply(Message{TransID: 999, Success: true})
	if len(sink.Ops) != 0 {
		t.Fatalf("unknown transaction reply must not be logged, got %+v", sink.Ops)
	}
}

func TestCoordinatorTickExpiresUnresolvedWriteAsFailAfterTimeout(t *testing.T) {
	c, sink, sent := testCoordinator(t, 5)
	c.Create("k", "v", 0)
	txnID := (*sent)[0].msg.TransID
	c.handleWriteReply(Message{TransID: txnID, Success: true})

	c.Tick(4) // before T_TXN=5 elapses
	if len(sink.Ops) != 0 {
		t.Fatalf("should not expire before timeout, got %+v", sink.Ops)
	}
	c.Tick(5)
	if len(sink.Ops) != 1 || sink.Ops[0].Outcome != logsink.OutcomeFail {
		t.Fatalf("want timeout FAIL logged, got %+v", sink.Ops)
	}
	c.Tick(100)
	if len(sink.Ops) != 1 {
		t.Fatalf("expired transaction should be removed, not re-logged, got %+v", sink.Ops)
	}
}

func TestCoordinatorTickDoesNotReLogAlreadyResolvedTransaction(t *testing.T) {
	c, sink, sent := testCoordinator(t, 5)
	c.Create("k", "v", 0)
	txnID := (*sent)[0].msg.TransID
	c.handleWriteReply(Message{TransID: txnID, Success: true})
	c.handleWriteReply(Message{TransID: txnID, Success: true})
	if len(sink.Ops) != 1 {
		t.Fatalf("want 1 event after quorum, got %d", len(sink.Ops))
	}
	c.Tick(1000)
	if len(sink.Ops) != 1 {
		t.Fatalf("resolved transaction must not log again on timeout sweep, got %d", len(sink.Ops))
	}
}
