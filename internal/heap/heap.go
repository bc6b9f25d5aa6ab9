// Package heap implements the off-heap byte region DXMem chunks live in:
// a large anonymous memory mapping managed by a segregated-fit free-list
// allocator (SPEC_FULL.md §4.B), plus typed read/write accessors and the
// "move payload" primitive the defragmenter uses to compact it.
//
// Grounded on the teacher's internal/writer.Allocator/FileWriter pairing
// (an allocator tracking regions behind a typed io.ReaderAt/io.WriterAt
// wrapper), generalized from a single-writer, file-backed, append-only
// model to a concurrent, mmap-backed, reusable-space model.
package heap

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/coeit/dxmem/internal/address"
	"github.com/coeit/dxmem/internal/errs"
	"github.com/coeit/dxmem/internal/status"
)

// ErrOutOfMemory is returned by Malloc/Resize when the heap cannot satisfy
// a request; callers surface it to the embedded API as status.OutOfMemory.
var ErrOutOfMemory = fmt.Errorf("heap: out of memory")

// ErrOverrun is returned by the typed accessors when an address/length pair
// would read or write outside the reserved region (the Go analogue of the
// source's readBytes/writeBytes returning -1).
var ErrOverrun = fmt.Errorf("heap: address range overruns region")

// Heap is a fixed-capacity byte region with a segregated free-list
// allocator. The zero value is not usable; construct with Init.
type Heap struct {
	mu     sync.Mutex
	region []byte // mmap'd anonymous region, len == size
	size   uint64
	bump   uint64 // frontier: next never-touched offset
	free   *freeLists
}

// Init reserves a single contiguous anonymous mapping of size bytes. The
// region is not file-backed: durability is a non-goal of DXMem, so a
// crash loses the heap.
func Init(size uint64) (*Heap, error) {
	if size == 0 {
		return nil, errs.Wrap("heap init", fmt.Errorf("size must be > 0"))
	}
	if size > (address.MaxAddress + 1) {
		return nil, errs.Wrap("heap init", fmt.Errorf("size %d exceeds 2^43 byte limit", size))
	}

	region, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errs.Wrap("heap init: mmap", err)
	}

	return &Heap{
		region: region,
		size:   size,
		free:   newFreeLists(),
	}, nil
}

// Close releases the mapping. The Heap must not be used afterward.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.region == nil {
		return nil
	}
	err := unix.Munmap(h.region)
	h.region = nil
	return errs.Wrap("heap close: munmap", err)
}

// Size returns the heap's total reserved capacity in bytes.
func (h *Heap) Size() uint64 { return h.size }

// Snapshot returns a copy of the heap's entire byte region, used by
// internal/dump to persist a recoverable image.
func (h *Heap) Snapshot() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, len(h.region))
	copy(out, h.region)
	return out
}

// Restore reconstructs a Heap from a previously captured Snapshot. The
// restored heap's free lists start empty and its bump frontier is set to
// the full region size: every byte of the image is treated as allocated,
// and space returns to the allocator only through later Free calls on the
// restored chunks. Free space that existed when the snapshot was taken is
// not recovered.
func Restore(data []byte) (*Heap, error) {
	h, err := Init(uint64(len(data)))
	if err != nil {
		return nil, errs.Wrap("heap restore", err)
	}
	copy(h.region, data)
	h.bump = h.size
	return h, nil
}

func alignUp8(n uint64) uint64 { return (n + 7) &^ 7 }

// allocateBlock finds or carves out a free region of at least n bytes,
// rounded up to the 8-byte alignment invariant. Returns the block's own
// offset and its actual (possibly larger than n) size.
func (h *Heap) allocateBlock(n uint64) (offset uint64, blockSize uint64, ok bool) {
	n = alignUp8(n)

	if idx := classFor(n); idx >= 0 {
		classSize := sizeClasses[idx]
		if off, found := h.free.popClass(idx); found {
			return off, classSize, true
		}
		if h.bump+classSize <= h.size {
			off := h.bump
			h.bump += classSize
			return off, classSize, true
		}
		return 0, 0, false
	}

	if off, remainder, found := h.free.popLarge(n); found {
		if remainder != nil {
			h.releaseBlock(remainder.offset, remainder.size)
		}
		return off, n, true
	}
	if h.bump+n <= h.size {
		off := h.bump
		h.bump += n
		return off, n, true
	}
	return 0, 0, false
}

// releaseBlock returns a block to the appropriate free list.
func (h *Heap) releaseBlock(offset, size uint64) {
	if idx := classFor(size); idx >= 0 && sizeClasses[idx] == size {
		h.free.pushClass(idx, offset)
		return
	}
	h.free.pushLarge(offset, size)
}

// blockFootprint returns the on-heap footprint (overflow prefix + payload)
// of an already-allocated entry, by reading its overflow prefix bytes back
// out of the region when the length is split.
func (h *Heap) blockFootprint(w address.Word) (blockOffset, blockSize uint64, err error) {
	overflowLen := uint64(0)
	if !w.Embedded() {
		overflowLen = uint64(w.SplitOverflowBytes())
	}
	payloadAddr := w.Address()
	if overflowLen > payloadAddr {
		return 0, 0, fmt.Errorf("heap: corrupt entry, overflow prefix underruns region")
	}
	blockOffset = payloadAddr - overflowLen

	var overflow []byte
	if overflowLen > 0 {
		if blockOffset+overflowLen > h.size {
			return 0, 0, ErrOverrun
		}
		overflow = h.region[blockOffset : blockOffset+overflowLen]
	}
	total := address.DecodeLength(w, overflow)
	n := alignUp8(overflowLen + total)
	if idx := classFor(n); idx >= 0 {
		blockSize = sizeClasses[idx]
	} else {
		blockSize = n
	}
	return blockOffset, blockSize, nil
}

// Malloc allocates len(sizes) chunks in one all-or-nothing batch. On
// success each returned Word carries its payload address and encoded
// length; overflow-prefix bytes (for split lengths) are already written
// into the heap. On failure no allocation from this call is retained.
func (h *Heap) Malloc(sizes []uint32) ([]address.Word, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	words := make([]address.Word, 0, len(sizes))
	allocated := make([]struct{ offset, size uint64 }, 0, len(sizes))

	rollback := func() {
		for i := len(allocated) - 1; i >= 0; i-- {
			a := allocated[i]
			if a.offset+a.size == h.bump {
				h.bump = a.offset
				continue
			}
			h.releaseBlock(a.offset, a.size)
		}
	}

	for _, size := range sizes {
		enc := address.EncodeLength(uint64(size))
		overflowLen := uint64(len(enc.OverflowBytes))
		need := overflowLen + uint64(size)

		offset, blockSize, ok := h.allocateBlock(need)
		if !ok {
			rollback()
			return nil, ErrOutOfMemory
		}
		allocated = append(allocated, struct{ offset, size uint64 }{offset, blockSize})

		if overflowLen > 0 {
			copy(h.region[offset:offset+overflowLen], enc.OverflowBytes)
		}
		payloadAddr := offset + overflowLen
		words = append(words, address.New(payloadAddr, uint64(size)))
	}

	return words, nil
}

// Free releases a chunk's payload and overflow prefix back to the free
// list.
func (h *Heap) Free(w address.Word) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	offset, blockSize, err := h.blockFootprint(w)
	if err != nil {
		return errs.Wrap("heap free", err)
	}
	h.releaseBlock(offset, blockSize)
	return nil
}

// Resize changes a chunk's length. It tries to grow/shrink in place when
// the existing block's footprint already accommodates the new size;
// otherwise it allocates a new block, copies the payload, and frees the
// old one. The returned Word reflects the new address/length; the caller
// (the operation layer) is responsible for CASing it into the CIDTable.
func (h *Heap) Resize(w address.Word, newSize uint32) (address.Word, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	oldOffset, oldBlockSize, err := h.blockFootprint(w)
	if err != nil {
		return w, errs.Wrap("heap resize", err)
	}
	oldPayloadLen := address.DecodeLength(w, h.overflowBytesOf(w, oldOffset))

	enc := address.EncodeLength(uint64(newSize))
	overflowLen := uint64(len(enc.OverflowBytes))
	need := overflowLen + uint64(newSize)

	if alignUp8(need) <= oldBlockSize {
		// In-place: rewrite the overflow prefix (if any) and report the
		// same payload address with the new length fields.
		payloadAddr := oldOffset + overflowLen
		if overflowLen > 0 {
			copy(h.region[oldOffset:oldOffset+overflowLen], enc.OverflowBytes)
		}
		if payloadAddr != w.Address() && oldPayloadLen > 0 {
			n := oldPayloadLen
			if uint64(newSize) < n {
				n = uint64(newSize)
			}
			copy(h.region[payloadAddr:payloadAddr+n], h.region[w.Address():w.Address()+n])
		}
		return address.New(payloadAddr, uint64(newSize)), nil
	}

	newOffset, newBlockSize, ok := h.allocateBlock(need)
	if !ok {
		return w, ErrOutOfMemory
	}
	if overflowLen > 0 {
		copy(h.region[newOffset:newOffset+overflowLen], enc.OverflowBytes)
	}
	newPayloadAddr := newOffset + overflowLen
	n := oldPayloadLen
	if uint64(newSize) < n {
		n = uint64(newSize)
	}
	copy(h.region[newPayloadAddr:newPayloadAddr+n], h.region[w.Address():w.Address()+oldPayloadLen])

	h.releaseBlock(oldOffset, oldBlockSize)
	_ = newBlockSize
	return address.New(newPayloadAddr, uint64(newSize)), nil
}

func (h *Heap) overflowBytesOf(w address.Word, blockOffset uint64) []byte {
	if w.Embedded() {
		return nil
	}
	n := uint64(w.SplitOverflowBytes())
	return h.region[blockOffset : blockOffset+n]
}

// FragmentationStats summarizes the free-list state for the defragmenter's
// trigger decision (§4.G).
type FragmentationStats struct {
	// TotalFree is the sum of every free block's size, including unused
	// bump-allocator space at the tail of the region.
	TotalFree uint64
	// LargestFree is the size of the single largest free block.
	LargestFree uint64
	// Ratio is LargestFree/TotalFree, in [0, 1]; low values indicate free
	// space is scattered across many small blocks rather than a few large
	// ones, which is when compaction pays off.
	Ratio float64
}

// FragmentationStats computes the current free-space layout.
func (h *Heap) FragmentationStats() FragmentationStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	total, largest := h.free.totals()
	tailSpace := h.size - h.bump
	total += tailSpace
	if tailSpace > largest {
		largest = tailSpace
	}

	stats := FragmentationStats{TotalFree: total, LargestFree: largest}
	if total > 0 {
		stats.Ratio = float64(largest) / float64(total)
	} else {
		stats.Ratio = 1
	}
	return stats
}

// PayloadLength decodes w's total payload length, reading the overflow
// prefix bytes back out of the region first when the length is split. Used
// by the defragmenter, which must know how many bytes to move.
func (h *Heap) PayloadLength(w address.Word) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if w.Embedded() {
		return uint64(w.EmbeddedLength()), nil
	}
	n := uint64(w.SplitOverflowBytes())
	payloadAddr := w.Address()
	if n > payloadAddr || payloadAddr-n+n > h.size {
		return 0, ErrOverrun
	}
	overflow := h.region[payloadAddr-n : payloadAddr]
	return address.DecodeLength(w, overflow), nil
}

// MovePayload copies length bytes from src to dst within the region. It is
// the defragmenter's relocation primitive (§4.B): the caller is
// responsible for allocating dst, updating the CIDTable entry, and freeing
// src.
func (h *Heap) MovePayload(dst, src, length uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if src+length > h.size || dst+length > h.size {
		return ErrOverrun
	}
	copy(h.region[dst:dst+length], h.region[src:src+length])
	return nil
}

// ReadBytes copies length bytes starting at addr into buf (len(buf) must
// equal the desired length).
func (h *Heap) ReadBytes(addr uint64, buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if addr+uint64(len(buf)) > h.size {
		return ErrOverrun
	}
	copy(buf, h.region[addr:addr+uint64(len(buf))])
	return nil
}

// WriteBytes writes buf starting at addr.
func (h *Heap) WriteBytes(addr uint64, buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if addr+uint64(len(buf)) > h.size {
		return ErrOverrun
	}
	copy(h.region[addr:addr+uint64(len(buf))], buf)
	return nil
}

// ReadUint32 and WriteUint32 are representative fixed-width numeric cell
// accessors (§4.B); DXMem normalizes all on-heap numeric cells to
// little-endian regardless of host byte order.
func (h *Heap) ReadUint32(addr uint64) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if addr+4 > h.size {
		return 0, ErrOverrun
	}
	return binary.LittleEndian.Uint32(h.region[addr : addr+4]), nil
}

// WriteUint32 writes v at addr in little-endian form.
func (h *Heap) WriteUint32(addr uint64, v uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if addr+4 > h.size {
		return ErrOverrun
	}
	binary.LittleEndian.PutUint32(h.region[addr:addr+4], v)
	return nil
}

// StatusForError maps an allocator error to the embedded API's status
// taxonomy (§7).
func StatusForError(err error) status.Status {
	if err == ErrOutOfMemory {
		return status.OutOfMemory
	}
	return status.OK
}
