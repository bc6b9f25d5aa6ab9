// Package dump implements the persisted-state snapshot (SPEC_FULL.md
// §4.J): a crash-safe side channel for capturing and restoring a heap and
// CIDTable image. DXMem itself carries no durability guarantee — this is
// recovery tooling an embedder opts into, not an automatic persistence
// layer.
//
// Grounded on calvinalkan-agent-task's use of github.com/natefinch/atomic
// for crash-safe state writes (temp file + rename), applied here to a
// heap+CIDTable snapshot instead of a ticket database.
package dump

import (
	"bytes"
	"fmt"
	"os"

	natomic "github.com/natefinch/atomic"

	"github.com/coeit/dxmem/internal/address"
	"github.com/coeit/dxmem/internal/cidtable"
	"github.com/coeit/dxmem/internal/cursor"
	"github.com/coeit/dxmem/internal/errs"
	"github.com/coeit/dxmem/internal/heap"
	"github.com/coeit/dxmem/internal/status"
)

// record is one CIDTable entry captured at dump time.
type record struct {
	localID uint64
	word    uint64
}

// sink is a grow-on-write io.WriterAt over an in-memory byte slice, used to
// accumulate WriteSnapshot's output before it is committed to disk in one
// atomic rename. WriteSnapshot's cursor writes it sequentially and
// single-threaded, so unlike internal/testutil.Buffer (shared across
// concurrent test suites) it needs no locking of its own.
type sink struct {
	data []byte
}

// WriteAt implements io.WriterAt, growing the buffer as needed.
func (s *sink) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(s.data)) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	return copy(s.data[off:end], p), nil
}

// WriteSnapshot serializes nodeID, the heap's full byte image, and every
// live CIDTable entry, then commits the result to path via a temp-file
// rename so a crash mid-write never leaves a half-written file visible at
// path.
func WriteSnapshot(h *heap.Heap, table *cidtable.Table, nodeID uint16, path string) error {
	heapImage := h.Snapshot()

	var records []record
	table.Iterate(func(cid address.CID, handle *cidtable.Handle) bool {
		records = append(records, record{localID: cid.LocalID(), word: uint64(handle.Current)})
		return true
	})

	out := &sink{}
	w := cursor.New(nil, out)

	if err := w.WriteUint16(nodeID); err != nil {
		return errs.Wrap("dump write header", err)
	}
	if err := w.WriteUint64(uint64(len(heapImage))); err != nil {
		return errs.Wrap("dump write heap size", err)
	}
	if err := w.WriteBytes(heapImage); err != nil {
		return errs.Wrap("dump write heap image", err)
	}
	if err := w.WriteCompactNumber(uint64(len(records))); err != nil {
		return errs.Wrap("dump write record count", err)
	}
	for _, r := range records {
		if err := w.WriteUint64(r.localID); err != nil {
			return errs.Wrap("dump write record id", err)
		}
		if err := w.WriteUint64(r.word); err != nil {
			return errs.Wrap("dump write record word", err)
		}
	}

	if err := natomic.WriteFile(path, bytes.NewReader(out.data)); err != nil {
		return errs.Wrap("dump commit", err)
	}
	return nil
}

// ReadSnapshot is the inverse of WriteSnapshot: it rebuilds a heap and a
// freshly populated CIDTable from the file at path.
func ReadSnapshot(path string) (*heap.Heap, *cidtable.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errs.Wrap("dump read file", err)
	}

	r := cursor.New(bytes.NewReader(data), nil)

	nodeID, err := r.ReadUint16()
	if err != nil {
		return nil, nil, errs.Wrap("dump read header", err)
	}
	heapSize, err := r.ReadUint64()
	if err != nil {
		return nil, nil, errs.Wrap("dump read heap size", err)
	}
	heapImage, err := r.ReadBytes(int(heapSize))
	if err != nil {
		return nil, nil, errs.Wrap("dump read heap image", err)
	}

	h, err := heap.Restore(heapImage)
	if err != nil {
		return nil, nil, errs.Wrap("dump restore heap", err)
	}

	count, err := r.ReadCompactNumber()
	if err != nil {
		return nil, nil, errs.Wrap("dump read record count", err)
	}

	table := cidtable.New(nodeID)
	for i := uint64(0); i < count; i++ {
		localID, err := r.ReadUint64()
		if err != nil {
			return nil, nil, errs.Wrap(fmt.Sprintf("dump read record %d id", i), err)
		}
		word, err := r.ReadUint64()
		if err != nil {
			return nil, nil, errs.Wrap(fmt.Sprintf("dump read record %d word", i), err)
		}
		cid := address.NewCID(nodeID, localID)
		if st := table.Insert(cid, address.Word(word)); st != status.OK {
			return nil, nil, errs.Wrap(fmt.Sprintf("dump insert record %d", i), fmt.Errorf("status %s", st))
		}
	}

	return h, table, nil
}
