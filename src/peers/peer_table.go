package peers

import (
	"sort"
	"sync"
	"time"
)

// Direction tells which side initiated a link.
type Direction uint8

const (
	// Inbound links were opened by the remote peer.
	Inbound Direction = iota
	// Outbound links were opened by us.
	Outbound
)

// String ...
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Handle is an owned reference to one physical link. IDs are unique within a
// process.
type Handle interface {
	ID() uint64
	Close() error
}

// PeerEntry associates a link with the address of the peer at the other end.
type PeerEntry struct {
	Handle    Handle      `json:"-"`
	Addr      NodeAddress `json:"address"`
	Direction Direction   `json:"-"`
	Since     time.Time   `json:"since"`

	seq uint64
}

// PeerTable is a concurrent registry of live links, keyed by handle.
type PeerTable struct {
	sync.RWMutex

	entries map[uint64]PeerEntry
	seq     uint64
}

// NewPeerTable creates an empty PeerTable.
func NewPeerTable() *PeerTable {
	return &PeerTable{
		entries: make(map[uint64]PeerEntry),
	}
}

// Add registers a link. It returns false, and leaves the table untouched, if
// the handle is already present.
func (t *PeerTable) Add(h Handle, addr NodeAddress, dir Direction) bool {
	t.Lock()
	defer t.Unlock()

	if _, ok := t.entries[h.ID()]; ok {
		return false
	}

	t.seq++
	t.entries[h.ID()] = PeerEntry{
		Handle:    h,
		Addr:      addr,
		Direction: dir,
		Since:     time.Now(),
		seq:       t.seq,
	}

	return true
}

// Remove deletes the entry of a handle and returns it. The second return value
// is false if the handle was not present.
func (t *PeerTable) Remove(h Handle) (PeerEntry, bool) {
	t.Lock()
	defer t.Unlock()

	e, ok := t.entries[h.ID()]
	if ok {
		delete(t.entries, h.ID())
	}

	return e, ok
}

// Contains reports whether a handle is registered.
func (t *PeerTable) Contains(h Handle) bool {
	t.RLock()
	defer t.RUnlock()

	_, ok := t.entries[h.ID()]
	return ok
}

// Snapshot returns the addresses of one direction in registration order.
func (t *PeerTable) Snapshot(dir Direction) []NodeAddress {
	entries := t.copyEntries(func(e PeerEntry) bool { return e.Direction == dir })

	res := make([]NodeAddress, len(entries))
	for i, e := range entries {
		res[i] = e.Addr
	}

	return res
}

// SnapshotAll returns the deduplicated union of outbound and inbound addresses.
// Outbound addresses come first, each group in registration order.
func (t *PeerTable) SnapshotAll() []NodeAddress {
	entries := t.copyEntries(nil)

	seen := make(map[NodeAddress]bool, len(entries))
	res := []NodeAddress{}

	for _, dir := range []Direction{Outbound, Inbound} {
		for _, e := range entries {
			if e.Direction != dir || seen[e.Addr] {
				continue
			}
			seen[e.Addr] = true
			res = append(res, e.Addr)
		}
	}

	return res
}

// Entries returns a copy of every entry in registration order.
func (t *PeerTable) Entries() []PeerEntry {
	return t.copyEntries(nil)
}

// Len returns the number of entries in one direction.
func (t *PeerTable) Len(dir Direction) int {
	t.RLock()
	defer t.RUnlock()

	n := 0
	for _, e := range t.entries {
		if e.Direction == dir {
			n++
		}
	}

	return n
}

// Clear removes all entries and returns them in registration order.
func (t *PeerTable) Clear() []PeerEntry {
	t.Lock()
	old := t.entries
	t.entries = make(map[uint64]PeerEntry)
	t.Unlock()

	res := make([]PeerEntry, 0, len(old))
	for _, e := range old {
		res = append(res, e)
	}
	sortBySeq(res)

	return res
}

// copyEntries holds the read lock only while copying the map. Sorting happens
// after the lock is released.
func (t *PeerTable) copyEntries(filter func(PeerEntry) bool) []PeerEntry {
	t.RLock()
	res := make([]PeerEntry, 0, len(t.entries))
	for _, e := range t.entries {
		if filter == nil || filter(e) {
			res = append(res, e)
		}
	}
	t.RUnlock()

	sortBySeq(res)

	return res
}

func sortBySeq(entries []PeerEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
}
