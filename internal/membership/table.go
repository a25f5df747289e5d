package membership

import "ringkv/internal/address"

// Entry is spec §3's MembershipEntry: the heartbeat last observed for a
// peer, and the local time it was accepted at.
type Entry struct {
	ID             uint32
	Port           uint16
	Heartbeat      int64
	LocalTimestamp int64
}

// Addr returns the Address this entry describes.
func (e Entry) Addr() address.Address { return address.New(e.ID, e.Port) }

// Table is spec §3's MembershipTable: an insertion-ordered list of entries
// plus an address-to-index side map for O(1) lookup. Self is always present.
type Table struct {
	self    address.Address
	entries []Entry
	index   map[address.Address]int
}

// NewTable creates a table containing only self, with heartbeat 0.
func NewTable(self address.Address, now int64) *Table {
	t := &Table{index: make(map[address.Address]int), self: self}
	t.entries = append(t.entries, Entry{ID: self.ID, Port: self.Port, Heartbeat: 0, LocalTimestamp: now})
	t.index[self] = 0
	return t
}

// Self returns self's current entry. Panics if self is missing, which
// spec §7 calls a fatal self-invariant violation (indicates a bug).
func (t *Table) Self() Entry {
	idx, ok := t.index[t.self]
	if !ok {
		panic("membership: self missing from own table")
	}
	return t.entries[idx]
}

// SetSelf overwrites self's entry in place.
func (t *Table) SetSelf(e Entry) {
	idx, ok := t.index[t.self]
	if !ok {
		panic("membership: self missing from own table")
	}
	t.entries[idx] = e
}

// Get looks up an entry by address.
func (t *Table) Get(addr address.Address) (Entry, bool) {
	idx, ok := t.index[addr]
	if !ok {
		return Entry{}, false
	}
	return t.entries[idx], true
}

// Upsert inserts a new entry (appended at the end, preserving insertion
// order) or overwrites an existing one in place. Reports whether the entry
// was newly inserted, so callers can tell a fresh join from a refresh.
func (t *Table) Upsert(e Entry) (inserted bool) {
	addr := e.Addr()
	if idx, ok := t.index[addr]; ok {
		t.entries[idx] = e
		return false
	}
	t.index[addr] = len(t.entries)
	t.entries = append(t.entries, e)
	return true
}

// Remove drops an entry other than self. Reports whether anything was
// removed. The side map is rebuilt to stay in lock-step with the list.
func (t *Table) Remove(addr address.Address) bool {
	if addr == t.self {
		return false
	}
	idx, ok := t.index[addr]
	if !ok {
		return false
	}
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	t.rebuildIndex()
	return true
}

func (t *Table) rebuildIndex() {
	t.index = make(map[address.Address]int, len(t.entries))
	for i, e := range t.entries {
		t.index[e.Addr()] = i
	}
}

// Entries returns a snapshot of every entry in insertion order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Addresses returns the address of every entry in insertion order.
func (t *Table) Addresses() []address.Address {
	out := make([]address.Address, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Addr()
	}
	return out
}

// Len returns the number of entries, including self.
func (t *Table) Len() int { return len(t.entries) }
