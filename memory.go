// Package dxmem implements an off-heap key/value memory manager: fixed
// 64-bit chunk identifiers (CIDs) translate through a radix CIDTable to
// entry words describing a payload's address, length, pin state, and
// reader/writer lock state inside a single mmap'd heap.
//
// Grounded on the teacher's File: open a resource, validate it, build a
// handle, expose accessor/operation methods, and make Close idempotent via
// a nil-check. The teacher's FileWriterOption functional-options pattern
// grounds Option/WithStats/WithDefragPolicy.
package dxmem

import (
	"context"
	"fmt"

	"github.com/coeit/dxmem/internal/address"
	"github.com/coeit/dxmem/internal/barrier"
	"github.com/coeit/dxmem/internal/cidtable"
	"github.com/coeit/dxmem/internal/defrag"
	"github.com/coeit/dxmem/internal/heap"
	"github.com/coeit/dxmem/internal/lock"
	"github.com/coeit/dxmem/internal/stats"
	"github.com/coeit/dxmem/internal/status"
)

// Memory is an open DXMem instance: one heap, one CIDTable, and the
// synchronization primitives the operation layer composes them through.
type Memory struct {
	nodeID  uint16
	heap    *heap.Heap
	table   *cidtable.Table
	barrier *barrier.Barrier
	locker  *lock.Locker
	stats   stats.Counters

	detector            *defrag.Detector
	defragSelector      *defrag.Selector
	defragRunner        *defrag.Runner
	defragLockTimeoutMs int64
}

// Open reserves a heap of heapSize bytes and builds a Memory handle over
// it. The handle must be closed with Close when no longer needed.
func Open(heapSize uint64, opts ...Option) (*Memory, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	h, err := heap.Init(heapSize)
	if err != nil {
		return nil, wrap("dxmem open", err)
	}

	table := cidtable.New(cfg.nodeID)
	b := barrier.New()
	l := lock.New(table)

	m := &Memory{
		nodeID:              cfg.nodeID,
		heap:                h,
		table:               table,
		barrier:             b,
		locker:              l,
		stats:               cfg.stats,
		defragLockTimeoutMs: cfg.defragLockTimeoutMs,
	}

	if cfg.defragEnabled {
		m.detector = defrag.NewDetector(cfg.defragOpts...)
		m.defragSelector = defrag.NewSelector(cfg.defragBatchSize)
		m.defragRunner = defrag.NewRunner(h, table, b, l, m.defragSelector, cfg.defragLockTimeoutMs)
	}

	return m, nil
}

// Close releases the underlying heap mapping. Safe to call more than once.
func (m *Memory) Close() error {
	return wrap("dxmem close", m.heap.Close())
}

// NodeID returns this handle's CIDTable node id.
func (m *Memory) NodeID() uint16 { return m.nodeID }

// Stats returns the Counters implementation this handle was opened with
// (stats.Noop{} if none was injected).
func (m *Memory) Stats() stats.Counters { return m.stats }

func (m *Memory) recordEvent(kind defrag.EventKind, size uint32) {
	if m.detector != nil {
		m.detector.Record(kind, size)
	}
}

// ShouldRunDefrag reports whether the injected defrag.Detector believes a
// compaction pass is warranted, given the heap's current fragmentation
// ratio. Returns false if no defrag policy was configured via
// WithDefragPolicy.
func (m *Memory) ShouldRunDefrag() bool {
	if m.detector == nil {
		return false
	}
	return m.detector.ShouldRun(m.heap.FragmentationStats().Ratio)
}

// RunDefragPass runs one compaction pass if a defrag policy was
// configured. Returns an empty Result and nil error if defrag is disabled.
func (m *Memory) RunDefragPass(ctx context.Context) (defrag.Result, error) {
	if m.defragRunner == nil {
		return defrag.Result{}, nil
	}
	return m.defragRunner.RunPass(ctx)
}

// Create allocates size bytes and binds them to a freshly minted CID.
// Takes the defragmenter barrier in exclusive mode because Insert is not
// CAS-based (§4.E).
func (m *Memory) Create(size uint32) (address.CID, status.Status) {
	ctx := context.Background()
	if err := m.barrier.AcquireExclusive(ctx); err != nil {
		return 0, status.LockTimeout
	}
	defer m.barrier.ReleaseExclusive()

	cid := m.table.ReserveLid()
	words, err := m.heap.Malloc([]uint32{size})
	if err != nil {
		m.stats.IncOOM()
		return 0, status.OutOfMemory
	}
	if st := m.table.Insert(cid, words[0]); st != status.OK {
		return 0, st
	}

	m.recordEvent(defrag.EventAlloc, size)
	m.stats.IncOp("create")
	m.stats.AddBytes("create", int64(size))
	return cid, status.OK
}

// reservedMarker fills a leaf slot with an address.InvalidAddress word
// that is neither address.Free nor address.Zombie, distinguishing
// "reserved, not yet allocated" from both sentinels while still failing
// Word.IsValid() (no payload exists yet).
const reservedMarker = address.Word(address.InvalidAddress)

// Reserve mints n fresh CIDs without allocating memory for them yet. Their
// leaf slots are set to a reserved marker until CreateReserved is called.
func (m *Memory) Reserve(n int) ([]address.CID, status.Status) {
	ctx := context.Background()
	if err := m.barrier.AcquireExclusive(ctx); err != nil {
		return nil, status.LockTimeout
	}
	defer m.barrier.ReleaseExclusive()

	cids := make([]address.CID, n)
	for i := 0; i < n; i++ {
		cid := m.table.ReserveLid()
		if st := m.table.Insert(cid, reservedMarker); st != status.OK {
			return nil, st
		}
		cids[i] = cid
	}
	m.stats.IncOp("reserve")
	return cids, status.OK
}

// CreateReserved allocates memory for CIDs previously returned by Reserve
// and binds it into their leaf slots. Passing a CID that was not obtained
// from Reserve (or was already bound) corrupts the structure: callers must
// keep their own bookkeeping, since this is a programmer error the
// embedded API does not defend against on the hot path.
func (m *Memory) CreateReserved(cids []address.CID, sizes []uint32) status.Status {
	if len(cids) != len(sizes) {
		panic(fmt.Sprintf("dxmem: CreateReserved called with %d cids and %d sizes", len(cids), len(sizes)))
	}

	ctx := context.Background()
	if err := m.barrier.AcquireExclusive(ctx); err != nil {
		return status.LockTimeout
	}
	defer m.barrier.ReleaseExclusive()

	words, err := m.heap.Malloc(sizes)
	if err != nil {
		m.stats.IncOOM()
		return status.OutOfMemory
	}
	for i, cid := range cids {
		if st := m.table.Insert(cid, words[i]); st != status.OK {
			return st
		}
		m.recordEvent(defrag.EventAlloc, sizes[i])
	}
	m.stats.IncOp("create_reserved")
	return status.OK
}

// Get read-locks cid's entry, copies its payload into buf, and releases
// the lock. buf's length must equal the chunk's current size.
func (m *Memory) Get(cid address.CID, buf []byte, timeoutMs int64) status.Status {
	ctx := context.Background()
	if err := m.barrier.AcquireShared(ctx); err != nil {
		return status.LockTimeout
	}
	defer m.barrier.ReleaseShared()

	h, st := m.table.Translate(cid)
	if st != status.OK {
		return st
	}

	if lst := m.locker.AcquireReadLock(h, timeoutMs); lst != status.OK {
		m.stats.IncLockWait("read")
		return lst
	}
	defer m.locker.ReleaseReadLock(h)

	if err := m.heap.ReadBytes(h.Address(), buf); err != nil {
		return status.DoesNotExist
	}

	m.stats.IncOp("get")
	m.stats.AddBytes("get", int64(len(buf)))
	return status.OK
}

// Put write-locks cid's entry and copies buf into its payload. buf's
// length must equal the chunk's current size; use Resize first to change
// it.
func (m *Memory) Put(cid address.CID, buf []byte, timeoutMs int64) status.Status {
	ctx := context.Background()
	if err := m.barrier.AcquireShared(ctx); err != nil {
		return status.LockTimeout
	}
	defer m.barrier.ReleaseShared()

	h, st := m.table.Translate(cid)
	if st != status.OK {
		return st
	}

	if lst := m.locker.AcquireWriteLock(h, timeoutMs); lst != status.OK {
		m.stats.IncLockWait("write")
		return lst
	}
	defer m.locker.ReleaseWriteLock(h)

	if err := m.heap.WriteBytes(h.Address(), buf); err != nil {
		return status.DoesNotExist
	}

	m.stats.IncOp("put")
	m.stats.AddBytes("put", int64(len(buf)))
	return status.OK
}

// Resize write-locks cid's entry, resizes its heap footprint, and
// publishes the new address/length through EntryAtomicUpdate.
func (m *Memory) Resize(cid address.CID, newSize uint32, timeoutMs int64) status.Status {
	ctx := context.Background()
	if err := m.barrier.AcquireShared(ctx); err != nil {
		return status.LockTimeout
	}
	defer m.barrier.ReleaseShared()

	h, st := m.table.Translate(cid)
	if st != status.OK {
		return st
	}

	if lst := m.locker.AcquireWriteLock(h, timeoutMs); lst != status.OK {
		m.stats.IncLockWait("write")
		return lst
	}
	defer m.locker.ReleaseWriteLock(h)

	resized, err := m.heap.Resize(h.Current, newSize)
	if err != nil {
		m.stats.IncOOM()
		return status.OutOfMemory
	}

	lenEnc := address.EncodeLength(uint64(newSize))
	h.Current = h.Current.WithAddress(resized.Address()).WithLength(lenEnc)
	if !m.table.EntryAtomicUpdate(h) {
		return status.DoesNotExist
	}

	m.recordEvent(defrag.EventResize, newSize)
	m.stats.IncOp("resize")
	return status.OK
}

// Remove write-locks cid's entry, frees its heap memory, and marks the
// slot ZOMBIE. The CID's local id becomes eligible for reuse once the
// defragmenter's next CleanupZombies pass reclaims it.
func (m *Memory) Remove(cid address.CID, timeoutMs int64) status.Status {
	ctx := context.Background()
	if err := m.barrier.AcquireShared(ctx); err != nil {
		return status.LockTimeout
	}
	defer m.barrier.ReleaseShared()

	h, st := m.table.Translate(cid)
	if st != status.OK {
		return st
	}

	if lst := m.locker.AcquireWriteLock(h, timeoutMs); lst != status.OK {
		m.stats.IncLockWait("write")
		return lst
	}

	size, _ := m.heap.PayloadLength(h.Current)
	if err := m.heap.Free(h.Current); err != nil {
		m.locker.ReleaseWriteLock(h)
		return status.DoesNotExist
	}
	m.table.MarkZombie(h)

	m.recordEvent(defrag.EventFree, uint32(size))
	m.stats.IncOp("remove")
	return status.OK
}

// Pin sets the pinned bit, which tells the defragmenter never to relocate
// this chunk. No lock is taken: pinning is a metadata-only flip.
func (m *Memory) Pin(cid address.CID) status.Status {
	return m.setPinned(cid, true)
}

// Unpin clears the pinned bit.
func (m *Memory) Unpin(cid address.CID) status.Status {
	return m.setPinned(cid, false)
}

func (m *Memory) setPinned(cid address.CID, pinned bool) status.Status {
	h, st := m.table.Translate(cid)
	if st != status.OK {
		return st
	}
	for {
		h.Current = h.Current.WithPinned(pinned)
		if m.table.EntryAtomicUpdate(h) {
			return status.OK
		}
		m.table.EntryReread(h)
		if !h.Current.IsValid() {
			return status.DoesNotExist
		}
	}
}

// Exists reports whether cid currently addresses a live chunk. Lock-free.
func (m *Memory) Exists(cid address.CID) bool {
	_, st := m.table.Translate(cid)
	return st == status.OK
}

// Size returns cid's current payload length. Lock-free.
func (m *Memory) Size(cid address.CID) (int, status.Status) {
	h, st := m.table.Translate(cid)
	if st != status.OK {
		return 0, st
	}
	n, err := m.heap.PayloadLength(h.Current)
	if err != nil {
		return 0, status.DoesNotExist
	}
	return int(n), status.OK
}
