package defrag

import (
	"github.com/coeit/dxmem/internal/address"
	"github.com/coeit/dxmem/internal/cidtable"
)

// Candidate is one entry the Selector has chosen for relocation.
type Candidate struct {
	CID  address.CID
	Word address.Word
}

// Selector picks a bounded batch of movable entries from a CIDTable for
// one compaction pass.
//
// Grounded on the teacher's internal/rebalancing.selector.go mode-decision
// shape (an explainable choice among none/lazy/incremental rebalancing),
// condensed here into a single bounded candidate-batch pick since DXMem's
// defragmenter always runs the same relocation strategy — only which
// entries and how many is decided per pass.
type Selector struct {
	batchSize int
}

// NewSelector constructs a Selector that picks at most batchSize
// candidates per pass.
func NewSelector(batchSize int) *Selector {
	if batchSize < 0 {
		batchSize = 256
	}
	return &Selector{batchSize: batchSize}
}

// Select walks table and returns up to the configured batch size of
// non-pinned live entries. CIDTable.Iterate already excludes zombie and
// free slots.
func (s *Selector) Select(table *cidtable.Table) []Candidate {
	out := make([]Candidate, 0, s.batchSize)
	table.Iterate(func(cid address.CID, h *cidtable.Handle) bool {
		if len(out) >= s.batchSize {
			return false
		}
		if !h.Current.Pinned() {
			out = append(out, Candidate{CID: cid, Word: h.Current})
		}
		return len(out) < s.batchSize
	})
	return out
}
