// Stabilization protocol (spec §4.5): restores the 3-replica invariant for
// locally-held keys after the ring changes. Grounded on the original
// course assignment's MP2Node::stabilizationProtocol (original_source/mp2/
// MP2Node.cpp), which enumerates the same three old-role cases this port
// keeps verbatim.
package kv

import (
	"ringkv/internal/address"
	"ringkv/internal/ring"
)

// Stabilize implements spec §4.5's algorithm for every key this node
// stores whose new primary is self. All re-replication messages carry
// transID = -1 (reReplicationTransID) so the receiving Server neither logs
// nor acknowledges them (spec §4.4 "Re-replication bypass").
//
// oldRing and newRing are the ring snapshots from before and after the
// change that triggered stabilization; modulus is the ring's R.
func Stabilize(self address.Address, store Backend, send SendFunc, oldRing, newRing []ring.Member, modulus uint64) {
	oldSucc := ring.Successors(oldRing, self)
	newSucc := ring.Successors(newRing, self)

	for _, key := range store.Keys() {
		hash := ring.HashKey(key, modulus)
		replicas := ring.Place(newRing, hash)
		if replicas == nil || replicas[0].Addr != self {
			continue
		}

		oldRole, ok := store.Role(key)
		if !ok {
			continue
		}
		value, ok := store.Read(key)
		if !ok {
			continue
		}
		store.Update(key, value, ring.Primary, true)

		switch oldRole {
		case ring.Tertiary:
			// both predecessors failed.
			sendReReplicate(send, self, newSucc[0], key, value, ring.Secondary)
			sendReReplicate(send, self, newSucc[1], key, value, ring.Tertiary)

		case ring.Secondary:
			// direct predecessor failed.
			if newSucc[0] == oldSucc[0] {
				sendReReplicateUpdate(send, self, newSucc[0], key, value, ring.Secondary)
			} else {
				sendReReplicate(send, self, newSucc[0], key, value, ring.Secondary)
			}
			sendReReplicate(send, self, newSucc[1], key, value, ring.Tertiary)

		case ring.Primary:
			switch {
			case newSucc[0] == oldSucc[1]:
				// old SECONDARY gone, old TERTIARY rotated in.
				sendReReplicateUpdate(send, self, newSucc[0], key, value, ring.Secondary)
				sendReReplicate(send, self, newSucc[1], key, value, ring.Tertiary)
			case newSucc[0] == oldSucc[0]:
				// first successor stable.
				if newSucc[1] != oldSucc[1] {
					sendReReplicate(send, self, newSucc[1], key, value, ring.Tertiary)
				}
			default:
				// both successors differ.
				sendReReplicate(send, self, newSucc[0], key, value, ring.Secondary)
				sendReReplicate(send, self, newSucc[1], key, value, ring.Tertiary)
			}
		}
	}
}

func sendReReplicate(send SendFunc, self, to address.Address, key, value string, role ring.Role) {
	if to.Zero() {
		return
	}
	send(to, Encode(Message{TransID: reReplicationTransID, From: self, Type: Create, Key: key, Value: value, Role: role}))
}

func sendReReplicateUpdate(send SendFunc, self, to address.Address, key, value string, role ring.Role) {
	if to.Zero() {
		return
	}
	send(to, Encode(Message{TransID: reReplicationTransID, From: self, Type: Update, Key: key, Value: value, Role: role}))
}
