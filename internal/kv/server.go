package kv

import (
	"ringkv/internal/address"
	"ringkv/internal/logsink"
)

// reReplicationTransID marks internal stabilization messages (spec §4.4
// "Re-replication bypass"): they mutate local state but are never logged
// and never acknowledged.
const reReplicationTransID int64 = -1

// Server services inbound CREATE/READ/UPDATE/DELETE requests against the
// local Backend and replies to the coordinator (spec §4.4).
type Server struct {
	self  address.Address
	store Backend
	sink  logsink.Sink
	send  SendFunc
}

// NewServer builds a Server over store.
func NewServer(self address.Address, store Backend, sink logsink.Sink, send SendFunc) *Server {
	return &Server{self: self, store: store, sink: sink, send: send}
}

// HandleMessage decodes and services one inbound KV request.
func (s *Server) HandleMessage(raw []byte) error {
	msg, err := Decode(raw)
	if err != nil {
		return err
	}
	switch msg.Type {
	case Create:
		s.handleCreate(msg)
	case Read:
		s.handleRead(msg)
	case Update:
		s.handleUpdate(msg)
	case Delete:
		s.handleDelete(msg)
	}
	return nil
}

func (s *Server) handleCreate(msg Message) {
	ok := s.store.Create(msg.Key, msg.Value, msg.Role)
	s.logAndReply(msg, logsink.OpCreate, ok, msg.Value)
}

func (s *Server) handleRead(msg Message) {
	value, ok := s.store.Read(msg.Key)
	s.logOperation(msg, logsink.OpRead, ok, value)
	s.send(msg.From, Encode(Message{TransID: msg.TransID, From: s.self, Type: ReadReply, Value: value}))
}

func (s *Server) handleUpdate(msg Message) {
	// spec §9: role is set by stabilization only; a normal UPDATE leaves
	// the stored role unchanged. Re-replication UPDATEs (transID = -1) are
	// exactly how stabilization migrates a role, so those do rewrite it.
	setRole := msg.TransID == reReplicationTransID
	ok := s.store.Update(msg.Key, msg.Value, msg.Role, setRole)
	s.logAndReply(msg, logsink.OpUpdate, ok, msg.Value)
}

func (s *Server) handleDelete(msg Message) {
	ok := s.store.Delete(msg.Key)
	s.logAndReply(msg, logsink.OpDelete, ok, "")
}

func (s *Server) logAndReply(msg Message, kind logsink.OpKind, ok bool, value string) {
	s.logOperation(msg, kind, ok, value)
	if msg.TransID == reReplicationTransID {
		return
	}
	s.send(msg.From, Encode(Message{TransID: msg.TransID, From: s.self, Type: WriteReply, Success: ok}))
}

func (s *Server) logOperation(msg Message, kind logsink.OpKind, ok bool, value string) {
	if msg.TransID == reReplicationTransID {
		return
	}
	outcome := logsink.OutcomeFail
	if ok {
		outcome = logsink.OutcomeSuccess
	}
	ev := logsink.OperationEvent{Kind: kind, Outcome: outcome, IsCoordinator: false, TransID: msg.TransID, Key: msg.Key}
	if ok && kind != logsink.OpDelete {
		ev.Value = value
	}
	s.sink.Operation(ev)
}
