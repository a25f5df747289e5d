// Local KV storage (spec §3 "KV Entry (local)"): a key/value map plus a
// parallel per-key role map, with the invariant that the two key sets are
// always equal. Grounded on the teacher's internal/storage/leveldb.go, with
// the vector-clock/Merkle-tree causality machinery stripped out (spec's KV
// Entry carries only a value and a replica role — see DESIGN.md) and a
// pure in-memory backend added for deterministic tests.
package kv

import (
	"fmt"
	"sync"

	"ringkv/internal/ring"

	"github.com/syndtr/goleveldb/leveldb"
)

// Backend is the server-side local store every replica mutates. It is
// intentionally narrow: no range scans, no transactions, matching spec
// §4.4's CREATE/READ/UPDATE/DELETE semantics exactly.
type Backend interface {
	// Create inserts key=value if absent, recording role. Returns whether
	// the insert happened.
	Create(key, value string, role ring.Role) bool
	// Read returns the stored value, or ("", false) if missing.
	Read(key string) (string, bool)
	// Update overwrites key=value if present, recording role. Returns
	// whether the key existed. setRole controls whether role is actually
	// rewritten (spec §9: normal UPDATE leaves role unchanged; only
	// stabilization moves a key between roles).
	Update(key, value string, role ring.Role, setRole bool) bool
	// Delete removes key if present. Returns whether it existed.
	Delete(key string) bool
	// Role returns the stored replica role for key.
	Role(key string) (ring.Role, bool)
	// Keys returns every locally stored key, in no particular order.
	Keys() []string
	// Len reports how many keys are stored locally.
	Len() int
	Close() error
}

// MemBackend is an in-process map-backed Backend, used by tests and by the
// deterministic scheduler-driven simulation.
type MemBackend struct {
	mu     sync.RWMutex
	values map[string]string
	roles  map[string]ring.Role
}

// NewMemBackend builds an empty MemBackend.
func NewMemBackend() *MemBackend {
	return &MemBackend{values: make(map[string]string), roles: make(map[string]ring.Role)}
}

func (b *MemBackend) Create(key, value string, role ring.Role) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.values[key]; exists {
		return false
	}
	b.values[key] = value
	b.roles[key] = role
	return true
}

func (b *MemBackend) Read(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

func (b *MemBackend) Update(key, value string, role ring.Role, setRole bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.values[key]; !exists {
		return false
	}
	b.values[key] = value
	if setRole {
		b.roles[key] = role
	}
	return true
}

func (b *MemBackend) Delete(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.values[key]; !exists {
		return false
	}
	delete(b.values, key)
	delete(b.roles, key)
	return true
}

func (b *MemBackend) Role(key string) (ring.Role, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.roles[key]
	return r, ok
}

func (b *MemBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.values))
	for k := range b.values {
		out = append(out, k)
	}
	return out
}

func (b *MemBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}

func (b *MemBackend) Close() error { return nil }

// LevelBackend persists the same Backend contract to an embedded LevelDB
// database, generalizing the teacher's LevelDBStorage. Values are stored
// as "<role-byte><value>" (no separator) so role metadata travels with the value
// without a second keyspace; roles are still tracked in an in-memory index
// for the Role()/Keys() fast paths, rebuilt from the DB on open.
type LevelBackend struct {
	mu    sync.RWMutex
	db    *leveldb.DB
	roles map[string]ring.Role
}

// NewLevelBackend opens (or creates) a LevelDB database at dir.
func NewLevelBackend(dir string) (*LevelBackend, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: opening leveldb at %s: %w", dir, err)
	}
	lb := &LevelBackend{db: db, roles: make(map[string]ring.Role)}
	iter := db.NewIterator(nil, nil)
	for iter.Next() {
		key := string(iter.Key())
		_, role, ok := splitStored(iter.Value())
		if ok {
			lb.roles[key] = role
		}
	}
	iter.Release()
	return lb, iter.Error()
}

func encodeStored(value string, role ring.Role) []byte {
	return append([]byte{byte(role)}, []byte(value)...)
}

func splitStored(raw []byte) (value string, role ring.Role, ok bool) {
	if len(raw) == 0 {
		return "", 0, false
	}
	return string(raw[1:]), ring.Role(raw[0]), true
}

func (b *LevelBackend) Create(key, value string, role ring.Role) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok, _ := b.db.Has([]byte(key), nil); ok {
		return false
	}
	if err := b.db.Put([]byte(key), encodeStored(value, role), nil); err != nil {
		return false
	}
	b.roles[key] = role
	return true
}

func (b *LevelBackend) Read(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	raw, err := b.db.Get([]byte(key), nil)
	if err != nil {
		return "", false
	}
	value, _, ok := splitStored(raw)
	return value, ok
}

func (b *LevelBackend) Update(key, value string, role ring.Role, setRole bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ok, _ := b.db.Has([]byte(key), nil)
	if !ok {
		return false
	}
	effectiveRole := b.roles[key]
	if setRole {
		effectiveRole = role
	}
	if err := b.db.Put([]byte(key), encodeStored(value, effectiveRole), nil); err != nil {
		return false
	}
	b.roles[key] = effectiveRole
	return true
}

func (b *LevelBackend) Delete(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ok, _ := b.db.Has([]byte(key), nil)
	if !ok {
		return false
	}
	if err := b.db.Delete([]byte(key), nil); err != nil {
		return false
	}
	delete(b.roles, key)
	return true
}

func (b *LevelBackend) Role(key string) (ring.Role, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.roles[key]
	return r, ok
}

func (b *LevelBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.roles))
	for k := range b.roles {
		out = append(out, k)
	}
	return out
}

func (b *LevelBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.roles)
}

func (b *LevelBackend) Close() error { return b.db.Close() }
