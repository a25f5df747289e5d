package kv

import (
	"testing"

	"ringkv/internal/address"
	"ringkv/internal/logsink"
	"ringkv/internal/ring"
)

func testServer(t *testing.T) (*Server, *MemBackend, *logsink.Recorder, *[]sentFrame) {
	t.Helper()
	self := address.New(2, 100)
	store := NewMemBackend()
	sink := logsink.NewRecorder()
	var sent []sentFrame
	send := func(to address.Address, payload []byte) {
		m, err := Decode(payload)
		if err != nil {
			t.Fatalf("Decode outgoing frame: %v", err)
		}
		sent = append(sent, sentFrame{to: to, msg: m})
	}
	return NewServer(self, store, sink, send), store, sink, &sent
}

func TestServerCreateSuccessLogsAndReplies(t *testing.T) {
	s, store, sink, sent := testServer(t)
	from := address.New(1, 100)
	raw := Encode(Message{TransID: 3, From: from, Type: Create, Key: "k", Value: "v", Role: ring.Primary})
	if err := s.HandleMessage(raw); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	v, ok := store.Read("k")
	if !ok || v != "v" {
		t.Fatalf("want k=v stored, got (%q,%v)", v, ok)
	}
	if len(sink.Ops) != 1 || sink.Ops[0].Outcome != logsink.OutcomeSuccess || sink.Ops[0].Kind != logsink.OpCreate {
		t.Fatalf("want one CREATE SUCCESS event, got %+v", sink.Ops)
	}
	if len(*sent) != 1 || (*sent)[0].msg.Type != WriteReply || !(*sent)[0].msg.Success {
		t.Fatalf("want successful WRITE_REPLY to sender, got %+v", *sent)
	}
	if (*sent)[0].to != from {
		t.Fatalf("reply should go to the requesting node, got %v", (*sent)[0].to)
	}
}

func TestServerCreateOnExistingKeyFails(t *testing.T) {
	s, store, sink, sent := testServer(t)
	store.Create("k", "old", ring.Primary)
	raw := Encode(Message{TransID: 1, From: address.New(1, 100), Type: Create, Key: "k", Value: "new", Role: ring.Primary})
	s.HandleMessage(raw)
	if v, _ := store.Read("k"); v != "old" {
		t.Fatalf("existing value must not be overwritten, got %q", v)
	}
	if sink.Ops[0].Outcome != logsink.OutcomeFail {
		t.Fatalf("want FAIL outcome, got %+v", sink.Ops[0])
	}
	if (*sent)[0].msg.Success {
		t.Fatalf("want unsuccessful WRITE_REPLY")
	}
}

func TestServerUpdateDoesNotChangeRoleUnlessReReplication(t *testing.T) {
	s, store, _, _ := testServer(t)
	store.Create("k", "v1", ring.Secondary)

	normalUpdate := Encode(Message{TransID: 5, From: address.New(1, 100), Type: Update, Key: "k", Value: "v2", Role: ring.Primary})
	s.HandleMessage(normalUpdate)
	role, _ := store.Role("k")
	if role != ring.Secondary {
		t.Fatalf("normal UPDATE must not change role, got %v", role)
	}
	v, _ := store.Read("k")
	if v != "v2" {
		t.Fatalf("normal UPDATE must change value, got %q", v)
	}

	reReplicate := Encode(Message{TransID: reReplicationTransID, From: address.New(3, 100), Type: Update, Key: "k", Value: "v3", Role: ring.Primary})
	s.HandleMessage(reReplicate)
	role, _ = store.Role("k")
	if role != ring.Primary {
		t.Fatalf("re-replication UPDATE must change role, got %v", role)
	}
}

func TestServerReReplicationCreateBypassesLogAndReply(t *testing.T) {
	s, store, sink, sent := testServer(t)
	raw := Encode(Message{TransID: reReplicationTransID, From: address.New(3, 100), Type: Create, Key: "k", Value: "v", Role: ring.Secondary})
	s.HandleMessage(raw)

	if v, ok := store.Read("k"); !ok || v != "v" {
		t.Fatalf("re-replication CREATE should still mutate local state, got (%q,%v)", v, ok)
	}
	if len(sink.Ops) != 0 {
		t.Fatalf("re-replication must not log, got %+v", sink.Ops)
	}
	if len(*sent) != 0 {
		t.Fatalf("re-replication must not reply, got %+v", *sent)
	}
}

func TestServerReadRepliesWithValueOrEmptyOnMiss(t *testing.T) {
	s, store, sink, sent := testServer(t)
	store.Create("k", "v", ring.Primary)

	s.HandleMessage(Encode(Message{TransID: 9, From: address.New(1, 100), Type: Read, Key: "k"}))
	if (*sent)[0].msg.Type != ReadReply || (*sent)[0].msg.Value != "v" {
		t.Fatalf("want READ_REPLY with value v, got %+v", (*sent)[0].msg)
	}
	if len(sink.Ops) != 1 || sink.Ops[0].Kind != logsink.OpRead || sink.Ops[0].Outcome != logsink.OutcomeSuccess || sink.Ops[0].Value != "v" {
		t.Fatalf("want one READ SUCCESS event with value v, got %+v", sink.Ops)
	}

	s.HandleMessage(Encode(Message{TransID: 10, From: address.New(1, 100), Type: Read, Key: "missing"}))
	if (*sent)[1].msg.Value != "" {
		t.Fatalf("want empty value for missing key, got %q", (*sent)[1].msg.Value)
	}
	if len(sink.Ops) != 2 || sink.Ops[1].Kind != logsink.OpRead || sink.Ops[1].Outcome != logsink.OutcomeFail {
		t.Fatalf("want a second READ FAIL event for the miss, got %+v", sink.Ops)
	}
}

func TestServerDeleteSuccessAndFailure(t *testing.T) {
	s, store, sink, sent := testServer(t)
	store.Create("k", "v", ring.Primary)

	s.HandleMessage(Encode(Message{TransID: 1, From: address.New(1, 100), Type: Delete, Key: "k"}))
	if _, ok := store.Read("k"); ok {
		t.Fatalf("key should be gone after DELETE")
	}
	if sink.Ops[0].Outcome != logsink.OutcomeSuccess {
		t.Fatalf("want SUCCESS, got %+v", sink.Ops[0])
	}

	s.HandleMessage(Encode(Message{TransID: 2, From: address.New(1, 100), Type: Delete, Key: "k"}))
	if sink.Ops[1].Outcome != logsink.OutcomeFail {
		t.Fatalf("want FAIL deleting missing key, got %+v", sink.Ops[1])
	}
	if (*sent)[1].msg.Success {
		t.Fatalf("want unsuccessful reply for missing-key DELETE")
	}
}
