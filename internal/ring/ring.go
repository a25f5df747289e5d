// Package ring implements spec §4.2: the consistent-hash ring built from
// the live membership view, and the 3-replica placement rule. Grounded on
// the teacher's internal/ring/consistent_hash.go (sorted-slice-plus-binary-
// search mechanics) but with the teacher's 150-virtual-nodes-per-physical-
// node trick removed: spec.md places exactly one ring position per live
// member (`pos = H(address_bytes) mod R`), so "virtual nodes" have no home
// here (see DESIGN.md).
package ring

import (
	"sort"

	"ringkv/internal/address"

	"github.com/cespare/xxhash/v2"
)

// Role is spec §3's ReplicaRole.
type Role int

const (
	Primary Role = iota
	Secondary
	Tertiary
)

func (r Role) String() string {
	switch r {
	case Primary:
		return "PRIMARY"
	case Secondary:
		return "SECONDARY"
	case Tertiary:
		return "TERTIARY"
	default:
		return "UNKNOWN"
	}
}

// Member is one live node projected onto the ring.
type Member struct {
	Addr address.Address
	Hash uint64
}

// Hash computes H(address_bytes) mod R using xxhash, a fast
// non-cryptographic hash already reachable from the retrieval pack's cache
// implementations (see DESIGN.md) and a good fit for spec's H().
func Hash(addr address.Address, modulus uint64) uint64 {
	b := addr.Bytes()
	return xxhash.Sum64(b[:]) % modulus
}

// HashKey computes H(key) mod R for a KV key.
func HashKey(key string, modulus uint64) uint64 {
	return xxhash.Sum64([]byte(key)) % modulus
}

// Build projects each member address to (address, hash) and sorts ascending
// by hash, ties broken by address bytes (spec §3).
func Build(members []address.Address, modulus uint64) []Member {
	out := make([]Member, len(members))
	for i, a := range members {
		out[i] = Member{Addr: a, Hash: Hash(a, modulus)}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hash != out[j].Hash {
			return out[i].Hash < out[j].Hash
		}
		return out[i].Addr.Less(out[j].Addr)
	})
	return out
}

// Changed detects a ring change by vector length inequality or by any
// position's hash/address differing from the prior ring (spec §4.2).
func Changed(oldRing, newRing []Member) bool {
	if len(oldRing) != len(newRing) {
		return true
	}
	for i := range oldRing {
		if oldRing[i].Hash != newRing[i].Hash || oldRing[i].Addr != newRing[i].Addr {
			return true
		}
	}
	return false
}

// Place returns the up-to-three replicas for a key, in (Primary, Secondary,
// Tertiary) order: the first three ring members whose hash is >= the key's
// hash, wrapping around when the key's hash exceeds every member's hash.
// Returns an empty slice if the ring has fewer than 3 members (spec §4.2:
// "client operations are suppressed until enough nodes are present").
func Place(r []Member, keyHash uint64) []Member {
	if len(r) < 3 {
		return nil
	}
	start := sort.Search(len(r), func(i int) bool { return r[i].Hash >= keyHash })
	out := make([]Member, 3)
	for i := 0; i < 3; i++ {
		out[i] = r[(start+i)%len(r)]
	}
	return out
}

// IndexOf returns the ring position of addr, or -1 if absent.
func IndexOf(r []Member, addr address.Address) int {
	for i, m := range r {
		if m.Addr == addr {
			return i
		}
	}
	return -1
}

// IsPrimaryFor reports whether the member at ring index i is primary for a
// key hash, per spec's "primary test": H(k) mod R in (hash(ring[i-1]),
// hash(ring[i])], wrapping at i=0.
func IsPrimaryFor(r []Member, i int, keyHash uint64) bool {
	if i < 0 || i >= len(r) {
		return false
	}
	prevIdx := i - 1
	if prevIdx < 0 {
		prevIdx = len(r) - 1
	}
	lo := r[prevIdx].Hash
	hi := r[i].Hash
	if prevIdx == i {
		// single-member ring: every key belongs to it.
		return true
	}
	if lo < hi {
		return keyHash > lo && keyHash <= hi
	}
	// wrap-around segment: (lo, max] U [0, hi]
	return keyHash > lo || keyHash <= hi
}

// Successors returns the two ring members clockwise of addr's position
// (spec §3 "Neighbourhood"), or fewer if the ring is smaller than 3.
func Successors(r []Member, addr address.Address) [2]address.Address {
	var out [2]address.Address
	idx := IndexOf(r, addr)
	if idx < 0 || len(r) < 2 {
		return out
	}
	out[0] = r[(idx+1)%len(r)].Addr
	if len(r) >= 3 {
		out[1] = r[(idx+2)%len(r)].Addr
	}
	return out
}

// Predecessors returns the two ring members counter-clockwise of addr's
// position.
func Predecessors(r []Member, addr address.Address) [2]address.Address {
	var out [2]address.Address
	idx := IndexOf(r, addr)
	if idx < 0 || len(r) < 2 {
		return out
	}
	n := len(r)
	out[0] = r[(idx-1+n)%n].Addr
	if n >= 3 {
		out[1] = r[(idx-2+n)%n].Addr
	}
	return out
}
