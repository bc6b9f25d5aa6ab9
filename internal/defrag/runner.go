package defrag

import (
	"context"

	"github.com/coeit/dxmem/internal/barrier"
	"github.com/coeit/dxmem/internal/cidtable"
	"github.com/coeit/dxmem/internal/errs"
	"github.com/coeit/dxmem/internal/heap"
	"github.com/coeit/dxmem/internal/lock"
	"github.com/coeit/dxmem/internal/status"
)

// Runner orchestrates one compaction pass (§4.G/§4.F): take the barrier
// exclusively, reclaim zombies, then for each candidate relocate its
// payload to a fresh allocation and CAS the CIDTable entry to the new
// address.
type Runner struct {
	heap     *heap.Heap
	table    *cidtable.Table
	barrier  *barrier.Barrier
	locker   *lock.Locker
	selector *Selector

	// lockTimeoutMs bounds how long the runner waits for a per-entry write
	// lock before skipping that candidate for this pass; it is retried on
	// the next pass rather than blocking the whole compaction indefinitely.
	lockTimeoutMs int64
}

// NewRunner wires a compaction Runner from its collaborators.
func NewRunner(h *heap.Heap, table *cidtable.Table, b *barrier.Barrier, l *lock.Locker, sel *Selector, lockTimeoutMs int64) *Runner {
	return &Runner{heap: h, table: table, barrier: b, locker: l, selector: sel, lockTimeoutMs: lockTimeoutMs}
}

// Result reports the outcome of one RunPass call.
type Result struct {
	ZombiesReclaimed int
	Moved            int
	Skipped          int
}

// RunPass executes a single compaction pass under the barrier's exclusive
// mode.
func (r *Runner) RunPass(ctx context.Context) (Result, error) {
	if err := r.barrier.AcquireExclusive(ctx); err != nil {
		return Result{}, errs.Wrap("defrag run pass: acquire barrier", err)
	}
	defer r.barrier.ReleaseExclusive()

	var result Result
	result.ZombiesReclaimed = r.table.CleanupZombies()

	for _, c := range r.selector.Select(r.table) {
		moved, err := r.relocate(c)
		if err != nil {
			return result, err
		}
		if moved {
			result.Moved++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

// relocate moves one candidate's payload to a freshly allocated block and
// publishes the new address through EntryAtomicUpdate. It returns
// (false, nil) for conditions that should simply skip the candidate this
// pass (lock contention, a concurrent removal, transient OOM) rather than
// fail the whole compaction.
func (r *Runner) relocate(c Candidate) (bool, error) {
	h, st := r.table.Translate(c.CID)
	if st != status.OK {
		return false, nil
	}
	if h.Current.Pinned() {
		return false, nil
	}

	if st := r.locker.AcquireWriteLock(h, r.lockTimeoutMs); st != status.OK {
		return false, nil
	}
	defer r.locker.ReleaseWriteLock(h)

	oldWord := h.Current
	length, err := r.heap.PayloadLength(oldWord)
	if err != nil {
		return false, errs.Wrap("defrag relocate: payload length", err)
	}

	newWords, err := r.heap.Malloc([]uint32{uint32(length)})
	if err != nil {
		// Out of memory mid-compaction: leave this entry where it is and
		// let a future pass retry once the allocator has more headroom.
		return false, nil
	}
	newWord := newWords[0]

	if err := r.heap.MovePayload(newWord.Address(), oldWord.Address(), length); err != nil {
		_ = r.heap.Free(newWord)
		return false, errs.Wrap("defrag relocate: move payload", err)
	}

	h.Current = oldWord.WithAddress(newWord.Address())
	if !r.table.EntryAtomicUpdate(h) {
		// Lost a race (shouldn't happen while we hold the write lock, but
		// defend against it): undo the new allocation and skip.
		_ = r.heap.Free(newWord)
		return false, nil
	}

	if err := r.heap.Free(oldWord); err != nil {
		return false, errs.Wrap("defrag relocate: free old block", err)
	}
	return true, nil
}
