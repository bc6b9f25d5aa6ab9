package heap

import "sort"

// sizeClasses are the segregated free-list buckets: powers of two from 8
// bytes up to 1MiB. Anything larger is tracked in the large-object list.
var sizeClasses = buildSizeClasses()

const (
	minClassSize   = 8
	maxClassSize   = 1 << 20
	largeThreshold = maxClassSize
)

func buildSizeClasses() []uint64 {
	var classes []uint64
	for c := uint64(minClassSize); c <= maxClassSize; c *= 2 {
		classes = append(classes, c)
	}
	return classes
}

// classFor returns the index of the smallest size class that fits n, or -1
// if n exceeds the largest class (the caller falls back to the large list).
func classFor(n uint64) int {
	for i, c := range sizeClasses {
		if n <= c {
			return i
		}
	}
	return -1
}

// largeBlock is a free region tracked by (offset, size) for the overflow
// allocator, kept sorted by offset so adjacent blocks can be coalesced on
// free.
type largeBlock struct {
	offset uint64
	size   uint64
}

// freeLists holds the segregated free-list state. It is not safe for
// concurrent use on its own — callers serialize access via Heap.mu.
type freeLists struct {
	classes [][]uint64 // classes[i] is a LIFO stack of offsets of free blocks sized sizeClasses[i]
	large   []largeBlock
}

func newFreeLists() *freeLists {
	return &freeLists{classes: make([][]uint64, len(sizeClasses))}
}

func (f *freeLists) popClass(idx int) (uint64, bool) {
	stack := f.classes[idx]
	if len(stack) == 0 {
		return 0, false
	}
	off := stack[len(stack)-1]
	f.classes[idx] = stack[:len(stack)-1]
	return off, true
}

func (f *freeLists) pushClass(idx int, offset uint64) {
	f.classes[idx] = append(f.classes[idx], offset)
}

// popLarge finds the first large block able to hold n bytes (first-fit),
// splitting off and returning any excess as a new free region that the
// caller should reclassify via Heap.releaseBlock.
func (f *freeLists) popLarge(n uint64) (offset uint64, remainder *largeBlock, ok bool) {
	for i, b := range f.large {
		if b.size >= n {
			f.large = append(f.large[:i], f.large[i+1:]...)
			if b.size > n {
				remainder = &largeBlock{offset: b.offset + n, size: b.size - n}
			}
			return b.offset, remainder, true
		}
	}
	return 0, nil, false
}

// totals returns the free byte count and the largest single free block
// size across both the segregated classes and the large list.
func (f *freeLists) totals() (total uint64, largest uint64) {
	for i, stack := range f.classes {
		n := uint64(len(stack)) * sizeClasses[i]
		total += n
		if len(stack) > 0 && sizeClasses[i] > largest {
			largest = sizeClasses[i]
		}
	}
	for _, b := range f.large {
		total += b.size
		if b.size > largest {
			largest = b.size
		}
	}
	return total, largest
}

// pushLarge inserts a free region into the large list in offset order and
// coalesces it with any immediately adjacent neighbors.
func (f *freeLists) pushLarge(offset, size uint64) {
	i := sort.Search(len(f.large), func(i int) bool { return f.large[i].offset >= offset })
	f.large = append(f.large, largeBlock{})
	copy(f.large[i+1:], f.large[i:])
	f.large[i] = largeBlock{offset: offset, size: size}

	// Coalesce with the following neighbor first so indices stay valid.
	if i+1 < len(f.large) && f.large[i].offset+f.large[i].size == f.large[i+1].offset {
		f.large[i].size += f.large[i+1].size
		f.large = append(f.large[:i+1], f.large[i+2:]...)
	}
	if i > 0 && f.large[i-1].offset+f.large[i-1].size == f.large[i].offset {
		f.large[i-1].size += f.large[i].size
		f.large = append(f.large[:i], f.large[i+1:]...)
	}
}
