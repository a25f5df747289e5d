// Package address implements the 6-byte node identity used throughout the
// cluster: a 32-bit node id and a 16-bit port, packed little-endian.
package address

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Size is the packed wire length of an Address, in bytes.
const Size = 6

// Address identifies a single cluster member. Equality, ordering and
// hashing are defined over the packed 6-byte form, never over the string
// form, so two Addresses compare equal iff their id and port match.
type Address struct {
	ID   uint32
	Port uint16
}

// New builds an Address from its id and port.
func New(id uint32, port uint16) Address {
	return Address{ID: id, Port: port}
}

// Parse converts the human form "<id>:<port>" into an Address.
func Parse(s string) (Address, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Address{}, fmt.Errorf("address: malformed %q, want \"id:port\"", s)
	}
	id, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("address: bad id in %q: %w", s, err)
	}
	port, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("address: bad port in %q: %w", s, err)
	}
	return New(uint32(id), uint16(port)), nil
}

// String renders the human form "<id>:<port>".
func (a Address) String() string {
	return strconv.FormatUint(uint64(a.ID), 10) + ":" + strconv.FormatUint(uint64(a.Port), 10)
}

// Bytes packs the Address into its 6-byte wire form: 4 bytes id, 2 bytes
// port, both little-endian.
func (a Address) Bytes() [Size]byte {
	var out [Size]byte
	binary.LittleEndian.PutUint32(out[0:4], a.ID)
	binary.LittleEndian.PutUint16(out[4:6], a.Port)
	return out
}

// FromBytes unpacks an Address from its 6-byte wire form.
func FromBytes(b [Size]byte) Address {
	return Address{
		ID:   binary.LittleEndian.Uint32(b[0:4]),
		Port: binary.LittleEndian.Uint16(b[4:6]),
	}
}

// Less orders addresses by their packed bytes, used to break hash ties on
// the ring.
func (a Address) Less(b Address) bool {
	ab, bb := a.Bytes(), b.Bytes()
	for i := range ab {
		if ab[i] != bb[i] {
			return ab[i] < bb[i]
		}
	}
	return false
}

// Zero reports whether this is the unset Address.
func (a Address) Zero() bool {
	return a == Address{}
}

// MarshalBinary implements encoding.BinaryMarshaler, returning the same
// 6-byte little-endian form as Bytes.
func (a Address) MarshalBinary() ([]byte, error) {
	b := a.Bytes()
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (a *Address) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return fmt.Errorf("address: want %d bytes, got %d", Size, len(data))
	}
	var b [Size]byte
	copy(b[:], data)
	*a = FromBytes(b)
	return nil
}
