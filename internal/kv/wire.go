// Wire codec for the KV protocol (spec §6): ASCII, "::"-delimited,
// `<transID>::<fromAddr>::<type>::<payload>`. Grounded on the original
// course assignment's Message::toString()/Message(string) round-trip
// (original_source/mp2/Message.cpp), generalized from its C++ stringstream
// splitting to Go's strings.Split.
package kv

import (
	"fmt"
	"strconv"
	"strings"

	"ringkv/internal/address"
	"ringkv/internal/ring"
)

// MessageType tags a KV wire message.
type MessageType int

const (
	Create MessageType = iota
	Read
	Update
	Delete
	WriteReply
	ReadReply
)

func (t MessageType) String() string {
	switch t {
	case Create:
		return "CREATE"
	case Read:
		return "READ"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	case WriteReply:
		return "WRITE_REPLY"
	case ReadReply:
		return "READ_REPLY"
	default:
		return "UNKNOWN"
	}
}

func parseMessageType(s string) (MessageType, error) {
	switch s {
	case "CREATE":
		return Create, nil
	case "READ":
		return Read, nil
	case "UPDATE":
		return Update, nil
	case "DELETE":
		return Delete, nil
	case "WRITE_REPLY":
		return WriteReply, nil
	case "READ_REPLY":
		return ReadReply, nil
	default:
		return 0, fmt.Errorf("kv: unrecognised message type %q", s)
	}
}

func parseRole(s string) (ring.Role, error) {
	switch s {
	case "PRIMARY":
		return ring.Primary, nil
	case "SECONDARY":
		return ring.Secondary, nil
	case "TERTIARY":
		return ring.Tertiary, nil
	default:
		return 0, fmt.Errorf("kv: unrecognised replica role %q", s)
	}
}

// Message is the decoded form of any KV wire message.
type Message struct {
	TransID int64
	From    address.Address
	Type    MessageType
	Key     string
	Value   string
	Role    ring.Role
	Success bool
}

const delim = "::"

// Encode serialises m to the wire format for its Type.
func Encode(m Message) []byte {
	head := []string{strconv.FormatInt(m.TransID, 10), m.From.String(), m.Type.String()}
	var tail []string
	switch m.Type {
	case Create, Update:
		tail = []string{m.Key, m.Value, m.Role.String()}
	case Read, Delete:
		tail = []string{m.Key}
	case WriteReply:
		if m.Success {
			tail = []string{"1"}
		} else {
			tail = []string{"0"}
		}
	case ReadReply:
		tail = []string{m.Value}
	}
	return []byte(strings.Join(append(head, tail...), delim))
}

// Decode parses any KV wire message.
func Decode(raw []byte) (Message, error) {
	parts := strings.Split(string(raw), delim)
	if len(parts) < 4 {
		return Message{}, fmt.Errorf("kv: malformed frame %q", raw)
	}
	transID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("kv: bad transID in %q: %w", raw, err)
	}
	from, err := address.Parse(parts[1])
	if err != nil {
		return Message{}, fmt.Errorf("kv: bad fromAddr in %q: %w", raw, err)
	}
	typ, err := parseMessageType(parts[2])
	if err != nil {
		return Message{}, err
	}

	m := Message{TransID: transID, From: from, Type: typ}
	switch typ {
	case Create, Update:
		if len(parts) < 6 {
			return Message{}, fmt.Errorf("kv: malformed %s frame %q", typ, raw)
		}
		m.Key, m.Value = parts[3], parts[4]
		role, err := parseRole(parts[5])
		if err != nil {
			return Message{}, err
		}
		m.Role = role
	case Read, Delete:
		m.Key = parts[3]
	case WriteReply:
		m.Success = parts[3] == "1"
	case ReadReply:
		m.Value = parts[3]
	}
	return m, nil
}
