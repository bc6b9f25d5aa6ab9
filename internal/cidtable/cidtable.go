// Package cidtable implements the multi-level radix map from a CID to its
// chunk entry word (SPEC_FULL.md §4.C): a node-id table plus four levels
// each partitioning 12 bits of the 48-bit local id, terminating in a leaf
// level whose slots are entry words.
//
// Grounded on the teacher's core.btree_v1.go FindChunk (level-by-level
// descent through a keyed tree to a leaf) generalized from comparison-keyed
// descent to direct-indexed radix descent, and on
// structures.SymbolTableNode's fixed-capacity entry array for the leaf
// level.
//
// Table blocks are ordinary Go-GC-managed memory (atomic.Pointer chains),
// not carved out of the payload heap. A Handle refers to its leaf slot
// through a Go pointer to the slot's atomic word; the embedded
// address.Entry's Pointer field is not set. This keeps table-block
// allocation separate from the payload allocator.
package cidtable

import (
	"sync"
	"sync/atomic"

	"github.com/coeit/dxmem/internal/address"
	"github.com/coeit/dxmem/internal/status"
)

const (
	levelBits = 12
	levelSize = 1 << levelBits
	levelMask = levelSize - 1

	nodeTableSize = 1 << 16
)

type leaf struct {
	slots [levelSize]atomic.Uint64
}

type level3 struct {
	children [levelSize]atomic.Pointer[leaf]
}

type level2 struct {
	children [levelSize]atomic.Pointer[level3]
}

type level1 struct {
	children [levelSize]atomic.Pointer[level2]
}

type nodeTable struct {
	children [nodeTableSize]atomic.Pointer[level1]
}

// Handle is the materialized entry of §4.A, extended with the CIDTable's
// own reference back to the leaf slot it was read from.
type Handle struct {
	address.Entry
	slot *atomic.Uint64
}

// Table is a CIDTable instance for a single owning node.
type Table struct {
	nodeID uint16
	root   *nodeTable

	counter   atomic.Uint64 // next never-issued local id
	reclaimMu sync.Mutex
	reclaimed []uint64 // zombie local ids available for reuse
}

// New constructs an empty CIDTable for the given node id.
func New(nodeID uint16) *Table {
	return &Table{nodeID: nodeID, root: &nodeTable{}}
}

func split(localID uint64) (i1, i2, i3, i4 uint32) {
	i1 = uint32((localID >> 36) & levelMask)
	i2 = uint32((localID >> 24) & levelMask)
	i3 = uint32((localID >> 12) & levelMask)
	i4 = uint32(localID & levelMask)
	return
}

// walk resolves cid down to its leaf slot, creating intermediate table
// blocks along the way when create is true (Insert's contract: caller
// holds the defragmenter barrier exclusively, so no concurrent writer can
// race this).
func (t *Table) walk(cid address.CID, create bool) (*atomic.Uint64, bool) {
	if cid.NodeID() != t.nodeID || !cid.Valid() {
		return nil, false
	}

	i1, i2, i3, i4 := split(cid.LocalID())

	l1 := t.root.children[cid.NodeID()].Load()
	if l1 == nil {
		if !create {
			return nil, false
		}
		l1 = &level1{}
		t.root.children[cid.NodeID()].Store(l1)
	}

	l2 := l1.children[i1].Load()
	if l2 == nil {
		if !create {
			return nil, false
		}
		l2 = &level2{}
		l1.children[i1].Store(l2)
	}

	l3 := l2.children[i2].Load()
	if l3 == nil {
		if !create {
			return nil, false
		}
		l3 = &level3{}
		l2.children[i2].Store(l3)
	}

	lf := l3.children[i3].Load()
	if lf == nil {
		if !create {
			return nil, false
		}
		lf = &leaf{}
		l3.children[i3].Store(lf)
	}

	return &lf.slots[i4], true
}

// Translate materializes the word at cid's leaf slot into a Handle.
func (t *Table) Translate(cid address.CID) (*Handle, status.Status) {
	if cid.NodeID() != t.nodeID || !cid.Valid() {
		return nil, status.InvalidID
	}
	slot, ok := t.walk(cid, false)
	if !ok {
		return nil, status.DoesNotExist
	}
	w := address.Word(slot.Load())
	if !w.IsValid() {
		return nil, status.DoesNotExist
	}
	h := &Handle{slot: slot}
	h.Initial = w
	h.Current = w
	return h, status.OK
}

// Insert writes word into cid's leaf slot, creating any missing
// intermediate table blocks. Not a CAS: the caller must hold the
// defragmenter barrier in exclusive mode or have reserved cid.
func (t *Table) Insert(cid address.CID, word address.Word) status.Status {
	slot, ok := t.walk(cid, true)
	if !ok {
		return status.InvalidID
	}
	slot.Store(uint64(word))
	return status.OK
}

// EntryAtomicUpdate CASes h.Value() into the slot, comparing against
// h.Initial. Returns true on success, updating h.Initial to match.
func (t *Table) EntryAtomicUpdate(h *Handle) bool {
	ok := h.slot.CompareAndSwap(uint64(h.Initial), uint64(h.Current))
	if ok {
		h.Initial = h.Current
	}
	return ok
}

// EntryReread refreshes h.Initial/h.Current from the live slot value;
// used after a failed CAS or when a lock-acquisition loop must observe a
// fresh word.
func (t *Table) EntryReread(h *Handle) {
	w := address.Word(h.slot.Load())
	h.Initial = w
	h.Current = w
}

// ReserveLid allocates the next local id for this node, preferring a
// reclaimed zombie id (lazy reclamation policy, §9) over a fresh increment.
func (t *Table) ReserveLid() address.CID {
	t.reclaimMu.Lock()
	if n := len(t.reclaimed); n > 0 {
		id := t.reclaimed[n-1]
		t.reclaimed = t.reclaimed[:n-1]
		t.reclaimMu.Unlock()
		return address.NewCID(t.nodeID, id)
	}
	t.reclaimMu.Unlock()

	id := t.counter.Add(1) // counter starts at 0; local id 0 is reserved invalid
	return address.NewCID(t.nodeID, id)
}

// MarkZombie flips h's slot from its current valid word to the ZOMBIE
// sentinel via CAS, retrying against fresh rereads until it lands (mirrors
// the release-lock retry idiom used elsewhere in the core).
func (t *Table) MarkZombie(h *Handle) {
	for {
		h.Current = address.Word(address.Zombie)
		if t.EntryAtomicUpdate(h) {
			return
		}
		t.EntryReread(h)
	}
}

// CleanupZombies scans this node's subtree for ZOMBIE slots, resets them
// to FREE, and queues their local ids for reuse by ReserveLid. Invoked by
// the defragmenter's Runner at the start of each pass (§9 policy decision),
// not on an independent timer.
func (t *Table) CleanupZombies() int {
	reclaimed := 0
	l1 := t.root.children[t.nodeID].Load()
	if l1 == nil {
		return 0
	}
	for i1 := range l1.children {
		l2 := l1.children[i1].Load()
		if l2 == nil {
			continue
		}
		for i2 := range l2.children {
			l3 := l2.children[i2].Load()
			if l3 == nil {
				continue
			}
			for i3 := range l3.children {
				lf := l3.children[i3].Load()
				if lf == nil {
					continue
				}
				for i4 := range lf.slots {
					if lf.slots[i4].Load() != address.Zombie {
						continue
					}
					if !lf.slots[i4].CompareAndSwap(address.Zombie, address.Free) {
						continue
					}
					localID := (uint64(i1) << 36) | (uint64(i2) << 24) | (uint64(i3) << 12) | uint64(i4)
					t.reclaimMu.Lock()
					t.reclaimed = append(t.reclaimed, localID)
					t.reclaimMu.Unlock()
					reclaimed++
				}
			}
		}
	}
	return reclaimed
}

// Iterate calls fn for every live (valid, non-zombie, non-free) entry in
// this node's subtree. fn returning false stops the iteration early. Used
// by the defragmenter (candidate selection) and by dump/export.
func (t *Table) Iterate(fn func(address.CID, *Handle) bool) {
	l1 := t.root.children[t.nodeID].Load()
	if l1 == nil {
		return
	}
	for i1 := range l1.children {
		l2 := l1.children[i1].Load()
		if l2 == nil {
			continue
		}
		for i2 := range l2.children {
			l3 := l2.children[i2].Load()
			if l3 == nil {
				continue
			}
			for i3 := range l3.children {
				lf := l3.children[i3].Load()
				if lf == nil {
					continue
				}
				for i4 := range lf.slots {
					w := address.Word(lf.slots[i4].Load())
					if !w.IsValid() {
						continue
					}
					localID := (uint64(i1) << 36) | (uint64(i2) << 24) | (uint64(i3) << 12) | uint64(i4)
					cid := address.NewCID(t.nodeID, localID)
					h := &Handle{slot: &lf.slots[i4]}
					h.Initial = w
					h.Current = w
					if !fn(cid, h) {
						return
					}
				}
			}
		}
	}
}
