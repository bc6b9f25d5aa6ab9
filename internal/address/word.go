// Package address implements the packing, unpacking, and CAS-oriented
// mutation of the 64-bit chunk entry word: the pivotal record mapping a
// CIDTable leaf slot to a heap address, a length encoding, a pin flag, and
// a reader/writer lock state.
//
// Bit layout, LSB to MSB:
//
//	bits  0-42  address (43 bits)
//	bits 43-53  embedded length, or split metadata (11 bits)
//	bit     54  isLengthFieldEmbedded
//	bits 55-61  read-lock counter (7 bits, 0..127)
//	bit     62  write-lock bit
//	bit     63  pinned
//
// The layout is a direct translation of SPEC_FULL.md §3; nothing here is
// configurable, since the spec fixes the field widths.
package address

import "math/bits"

const (
	addressBits = 43
	addressMask = (uint64(1) << addressBits) - 1

	lengthFieldShift = addressBits
	lengthFieldBits  = 11
	lengthFieldMask  = (uint64(1) << lengthFieldBits) - 1

	embeddedBitShift = lengthFieldShift + lengthFieldBits // 54

	readLockShift = embeddedBitShift + 1 // 55
	readLockBits  = 7
	readLockMask  = (uint64(1) << readLockBits) - 1

	writeLockShift = readLockShift + readLockBits // 62
	pinnedShift    = writeLockShift + 1            // 63

	splitLSBBits   = 8
	splitLSBMask   = (uint64(1) << splitLSBBits) - 1
	splitSizeShift = splitLSBBits // within the 11-bit field
	splitSizeBits  = 2
	splitSizeMask  = (uint64(1) << splitSizeBits) - 1

	// MaxReadLocks is the saturation point of the read-lock counter (§3 invariant).
	MaxReadLocks = readLockMask

	// EmbeddedLengthLimit is the largest length that fits inline (§3 "Length encoding").
	EmbeddedLengthLimit = lengthFieldMask // 2047

	// MaxAddress is the largest representable heap address (2^43 - 2), the byte
	// immediately before the all-ones INVALID sentinel.
	MaxAddress = addressMask - 1
)

// InvalidAddress is the all-ones 43-bit sentinel meaning "no payload".
const InvalidAddress uint64 = addressMask

// Raw sentinel words for a CIDTable leaf slot.
const (
	// Free marks a leaf slot that has never held a chunk.
	Free uint64 = 0
	// Zombie marks a slot whose chunk was removed but whose CID is not yet reclaimed.
	// All bits set, so its address field equals InvalidAddress; that distinguishes
	// it unambiguously from any live entry (a live entry's address is never all-ones).
	Zombie uint64 = ^uint64(0)
)

// Word is a packed 64-bit chunk entry. It is a plain value: packing and
// unpacking never touch memory, so callers round-trip it through a
// CIDTable leaf slot via atomic loads/CAS.
type Word uint64

// Address returns the 43-bit heap address field.
func (w Word) Address() uint64 { return uint64(w) & addressMask }

// Embedded reports whether the length field is the inline form.
func (w Word) Embedded() bool { return (uint64(w)>>embeddedBitShift)&1 == 1 }

// ReadLocks returns the current reader count (0..127).
func (w Word) ReadLocks() uint8 { return uint8((uint64(w) >> readLockShift) & readLockMask) }

// WriteLocked reports whether the exclusive writer bit is set.
func (w Word) WriteLocked() bool { return (uint64(w)>>writeLockShift)&1 == 1 }

// Pinned reports whether the defragmenter must not move this chunk.
func (w Word) Pinned() bool { return (uint64(w)>>pinnedShift)&1 == 1 }

// rawLengthField returns the raw 11-bit length/split-metadata field, uninterpreted.
func (w Word) rawLengthField() uint64 {
	return (uint64(w) >> lengthFieldShift) & lengthFieldMask
}

// EmbeddedLength returns the inline length. Only meaningful when Embedded() is true.
func (w Word) EmbeddedLength() uint32 {
	return uint32(w.rawLengthField())
}

// SplitLSB and SplitOverflowBytes decompose the split-mode length field.
// Only meaningful when Embedded() is false.
func (w Word) SplitLSB() uint8 {
	return uint8(w.rawLengthField() & splitLSBMask)
}

// SplitOverflowBytes returns how many overflow-prefix bytes (1..3) in the
// heap hold the high bits of the length.
func (w Word) SplitOverflowBytes() uint8 {
	return uint8((w.rawLengthField() >> splitSizeShift) & splitSizeMask)
}

// IsFree reports whether the word is the FREE sentinel.
func (w Word) IsFree() bool { return uint64(w) == Free }

// IsZombie reports whether the word is the ZOMBIE sentinel.
func (w Word) IsZombie() bool { return uint64(w) == Zombie }

// IsValid reports whether w addresses a live chunk: neither sentinel, and
// its address field is not the INVALID marker (§3 invariant).
func (w Word) IsValid() bool {
	return !w.IsFree() && !w.IsZombie() && w.Address() != InvalidAddress
}

// packEmbedded computes the raw 11-bit length field for an embedded length.
func packEmbedded(length uint32) uint64 {
	return uint64(length) & lengthFieldMask
}

// packSplit computes the raw 11-bit length field for a split length.
func packSplit(lsb uint8, overflowBytes uint8) uint64 {
	return (uint64(lsb) & splitLSBMask) | ((uint64(overflowBytes) & splitSizeMask) << splitSizeShift)
}

// Pack assembles a Word from its decoded fields. lengthField must already
// be produced by packEmbedded/packSplit (callers go through EncodeLength).
func pack(addr uint64, embedded bool, lengthField uint64, readLocks uint8, writeLocked bool, pinned bool) Word {
	var w uint64
	w |= addr & addressMask
	w |= (lengthField & lengthFieldMask) << lengthFieldShift
	if embedded {
		w |= 1 << embeddedBitShift
	}
	w |= (uint64(readLocks) & readLockMask) << readLockShift
	if writeLocked {
		w |= 1 << writeLockShift
	}
	if pinned {
		w |= 1 << pinnedShift
	}
	return Word(w)
}

// EncodedLength is the result of encoding a payload length: the field
// bits to store in the entry word, plus the overflow-prefix bytes (if
// any) that must be written into the heap immediately before the payload.
type EncodedLength struct {
	Embedded      bool
	LengthField   uint64 // raw 11-bit field value
	OverflowBytes []byte // 0..3 bytes, big-endian, written before the payload
}

// EncodeLength implements the §3 length-encoding rule: sizes up to 2047
// bytes are embedded inline; larger sizes store their low 8 bits in the
// entry and their remaining high bits as a big-endian overflow prefix (1-3
// bytes) physically adjacent to the payload in the heap.
func EncodeLength(total uint64) EncodedLength {
	if total <= EmbeddedLengthLimit {
		return EncodedLength{Embedded: true, LengthField: packEmbedded(uint32(total))}
	}

	lsb := uint8(total & 0xFF)
	high := total >> 8

	// bits.Len64 tells us how many bits `high` needs; round up to bytes.
	nBytes := (bits.Len64(high) + 7) / 8
	if nBytes == 0 {
		nBytes = 1
	}
	if nBytes > 3 {
		nBytes = 3 // totals of 2^32 or more do not fit: only the low 24 high bits are kept.
	}

	overflow := make([]byte, nBytes)
	v := high
	for i := nBytes - 1; i >= 0; i-- {
		overflow[i] = byte(v & 0xFF)
		v >>= 8
	}

	return EncodedLength{
		Embedded:      false,
		LengthField:   packSplit(lsb, uint8(nBytes)),
		OverflowBytes: overflow,
	}
}

// DecodeLength reconstructs a payload length from a Word plus the overflow
// prefix bytes read from the heap immediately before the payload (pass nil
// when w.Embedded() is true; the prefix is not consulted in that case).
func DecodeLength(w Word, overflow []byte) uint64 {
	if w.Embedded() {
		return uint64(w.EmbeddedLength())
	}
	var high uint64
	for _, b := range overflow {
		high = (high << 8) | uint64(b)
	}
	return (high << 8) | uint64(w.SplitLSB())
}

// New builds a fresh, unlocked, unpinned Word for a freshly allocated
// chunk at addr with the given total payload length.
func New(addr uint64, total uint64) Word {
	enc := EncodeLength(total)
	return pack(addr, enc.Embedded, enc.LengthField, 0, false, false)
}

// WithAddress returns a copy of w with its address field replaced, used by
// Resize and by the defragmenter's move primitive. Lock/pin bits are
// preserved.
func (w Word) WithAddress(addr uint64) Word {
	return Word((uint64(w) &^ addressMask) | (addr & addressMask))
}

// WithLength returns a copy of w with its length field replaced by enc,
// preserving address, lock, and pin bits.
func (w Word) WithLength(enc EncodedLength) Word {
	raw := uint64(w) &^ (lengthFieldMask<<lengthFieldShift | 1<<embeddedBitShift)
	raw |= (enc.LengthField & lengthFieldMask) << lengthFieldShift
	if enc.Embedded {
		raw |= 1 << embeddedBitShift
	}
	return Word(raw)
}

// WithReadLocks returns a copy of w with the reader count replaced.
func (w Word) WithReadLocks(n uint8) Word {
	raw := uint64(w) &^ (readLockMask << readLockShift)
	raw |= (uint64(n) & readLockMask) << readLockShift
	return Word(raw)
}

// WithWriteLocked returns a copy of w with the writer bit set/cleared.
func (w Word) WithWriteLocked(locked bool) Word {
	if locked {
		return Word(uint64(w) | 1<<writeLockShift)
	}
	return Word(uint64(w) &^ (1 << writeLockShift))
}

// WithPinned returns a copy of w with the pin bit set/cleared.
func (w Word) WithPinned(pinned bool) Word {
	if pinned {
		return Word(uint64(w) | 1<<pinnedShift)
	}
	return Word(uint64(w) &^ (1 << pinnedShift))
}
