// Wire codec for the three membership protocol messages (spec §4.1, §6):
// JOIN_REQUEST, JOIN_REPLY and GOSSIP. The layout is fixed, little-endian
// and byte-packed, mirroring the original course assignment's MessageHdr
// framing (original_source/mp2/Message.h) but expressed with encoding/binary
// instead of raw struct casts.
package membership

import (
	"encoding/binary"
	"fmt"

	"ringkv/internal/address"
)

// Kind tags a membership wire message.
type Kind uint8

const (
	KindJoinRequest Kind = 0
	KindJoinReply   Kind = 1
	KindGossip      Kind = 2
)

// GossipEntry is one (id, port, heartbeat) triple carried in a GOSSIP
// message's digest.
type GossipEntry struct {
	ID        uint32
	Port      uint16
	Heartbeat int64
}

// Addr returns the Address this entry describes.
func (g GossipEntry) Addr() address.Address { return address.New(g.ID, g.Port) }

// Message is the decoded form of any of the three membership wire
// messages; only the fields relevant to Kind are populated.
type Message struct {
	Kind      Kind
	From      address.Address
	Heartbeat int64         // JOIN_REQUEST / JOIN_REPLY
	Entries   []GossipEntry // GOSSIP
}

const reservedByte = 0

// EncodeJoinRequest builds a JOIN_REQUEST(fromAddr, heartbeat) frame.
func EncodeJoinRequest(from address.Address, heartbeat int64) []byte {
	return encodeJoin(KindJoinRequest, from, heartbeat)
}

// EncodeJoinReply builds a JOIN_REPLY(fromAddr, heartbeat) frame.
func EncodeJoinReply(from address.Address, heartbeat int64) []byte {
	return encodeJoin(KindJoinReply, from, heartbeat)
}

func encodeJoin(kind Kind, from address.Address, heartbeat int64) []byte {
	buf := make([]byte, 1+address.Size+1+8)
	buf[0] = byte(kind)
	addrBytes := from.Bytes()
	copy(buf[1:1+address.Size], addrBytes[:])
	buf[1+address.Size] = reservedByte
	binary.LittleEndian.PutUint64(buf[1+address.Size+1:], uint64(heartbeat))
	return buf
}

// EncodeGossip builds a GOSSIP(fromAddr, heartbeat, n, entries) frame. The
// sender's own heartbeat is carried as entries[self] by convention, matching
// how the detector constructs the digest; this function only serializes
// whatever entries it is given.
func EncodeGossip(from address.Address, entries []GossipEntry) []byte {
	head := 1 + address.Size + 1 + 8
	buf := make([]byte, head+len(entries)*14)
	buf[0] = byte(KindGossip)
	addrBytes := from.Bytes()
	copy(buf[1:1+address.Size], addrBytes[:])
	buf[1+address.Size] = reservedByte
	binary.LittleEndian.PutUint64(buf[1+address.Size+1:head], uint64(len(entries)))

	off := head
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[off:off+4], e.ID)
		binary.LittleEndian.PutUint16(buf[off+4:off+6], e.Port)
		binary.LittleEndian.PutUint64(buf[off+6:off+14], uint64(e.Heartbeat))
		off += 14
	}
	return buf
}

// Decode parses any of the three membership wire messages.
func Decode(raw []byte) (Message, error) {
	if len(raw) < 1+address.Size+1 {
		return Message{}, fmt.Errorf("membership: frame too short (%d bytes)", len(raw))
	}
	kind := Kind(raw[0])
	var addrBytes [address.Size]byte
	copy(addrBytes[:], raw[1:1+address.Size])
	from := address.FromBytes(addrBytes)
	head := 1 + address.Size + 1

	switch kind {
	case KindJoinRequest, KindJoinReply:
		if len(raw) < head+8 {
			return Message{}, fmt.Errorf("membership: join frame too short")
		}
		hb := int64(binary.LittleEndian.Uint64(raw[head : head+8]))
		return Message{Kind: kind, From: from, Heartbeat: hb}, nil

	case KindGossip:
		if len(raw) < head+8 {
			return Message{}, fmt.Errorf("membership: gossip frame too short")
		}
		n := binary.LittleEndian.Uint64(raw[head : head+8])
		off := head + 8
		entries := make([]GossipEntry, 0, n)
		for i := uint64(0); i < n; i++ {
			if len(raw) < off+14 {
				return Message{}, fmt.Errorf("membership: gossip frame truncated at entry %d", i)
			}
			entries = append(entries, GossipEntry{
				ID:        binary.LittleEndian.Uint32(raw[off : off+4]),
				Port:      binary.LittleEndian.Uint16(raw[off+4 : off+6]),
				Heartbeat: int64(binary.LittleEndian.Uint64(raw[off+6 : off+14])),
			})
			off += 14
		}
		return Message{Kind: kind, From: from, Entries: entries}, nil

	default:
		return Message{}, fmt.Errorf("membership: unrecognised kind %d", kind)
	}
}
