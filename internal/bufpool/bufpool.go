// Package bufpool provides a pooled byte-slice allocator for the short-lived
// scratch buffers used when encoding/decoding on-the-wire representations
// (the cursor package, and through it the dump package).
package bufpool

import "sync"

var pool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 0, 4096)
	},
}

// Get returns a byte slice of exactly size from the pool.
func Get(size int) []byte {
	buf, _ := pool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size, size*2)
	}
	return buf[:size]
}

// Put returns a buffer to the pool.
func Put(buf []byte) {
	//nolint:staticcheck // slice descriptor copy is acceptable for sync.Pool
	pool.Put(buf[:0])
}
