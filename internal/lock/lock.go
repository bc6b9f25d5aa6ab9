// Package lock implements the reader/writer lock protocol co-located with
// the chunk entry word (SPEC_FULL.md §4.D): optimistic-CAS acquire/release
// with cooperative yield, and a caller-specified millisecond timeout.
//
// Grounded on the CAS-retry idiom used throughout the retrieval pack
// (sync/atomic spin loops) and on calvinalkan-agent-task's
// acquireLockWithTimeout deadline-loop (poll against a monotonic clock,
// treating a zero timeout as "try once").
package lock

import (
	"runtime"
	"time"

	"github.com/coeit/dxmem/internal/address"
	"github.com/coeit/dxmem/internal/cidtable"
	"github.com/coeit/dxmem/internal/status"
)

// Locker drives the lock protocol's CAS retries against a CIDTable.
type Locker struct {
	table *cidtable.Table
}

// New constructs a Locker bound to table.
func New(table *cidtable.Table) *Locker {
	return &Locker{table: table}
}

// waitOrTimeout implements the §5 timeout semantics: -1 blocks forever
// (yielding between attempts), 0 returns false immediately without
// yielding even once, and a positive budget yields until the elapsed time
// since start exceeds timeoutMs.
func waitOrTimeout(start time.Time, timeoutMs int64) bool {
	switch {
	case timeoutMs < 0:
		runtime.Gosched()
		return true
	case timeoutMs == 0:
		return false
	default:
		if time.Since(start) >= time.Duration(timeoutMs)*time.Millisecond {
			return false
		}
		runtime.Gosched()
		return true
	}
}

// AcquireReadLock implements §4.D's acquireReadLock. A saturated
// read-lock counter (127 concurrent readers) is not an error: the caller
// yields and retries like any other contended acquire, per the §9 Open
// Questions decision to preserve that liveness behavior rather than
// invent a distinct status for it.
func (l *Locker) AcquireReadLock(h *cidtable.Handle, timeoutMs int64) status.Status {
	start := time.Now()
	for {
		if !h.IsValid() {
			return status.InvalidID
		}
		if h.Current.WriteLocked() || h.Current.ReadLocks() >= address.MaxReadLocks {
			if !waitOrTimeout(start, timeoutMs) {
				return status.LockTimeout
			}
			l.table.EntryReread(h)
			continue
		}
		h.Current = h.Current.WithReadLocks(h.Current.ReadLocks() + 1)
		if l.table.EntryAtomicUpdate(h) {
			return status.OK
		}
		l.table.EntryReread(h)
	}
}

// ReleaseReadLock decrements the reader count, retrying the CAS until it
// lands.
func (l *Locker) ReleaseReadLock(h *cidtable.Handle) {
	for {
		if h.Current.ReadLocks() == 0 {
			return
		}
		h.Current = h.Current.WithReadLocks(h.Current.ReadLocks() - 1)
		if l.table.EntryAtomicUpdate(h) {
			return
		}
		l.table.EntryReread(h)
	}
}

// AcquireWriteLock implements §4.D's acquireWriteLock: CAS the write-lock
// bit on, then drain existing readers. If the drain phase times out, the
// write-lock bit is released before returning so a timed-out acquirer
// never leaves the entry permanently unavailable.
func (l *Locker) AcquireWriteLock(h *cidtable.Handle, timeoutMs int64) status.Status {
	start := time.Now()
	for {
		if !h.IsValid() {
			return status.InvalidID
		}
		if h.Current.WriteLocked() {
			if !waitOrTimeout(start, timeoutMs) {
				return status.LockTimeout
			}
			l.table.EntryReread(h)
			continue
		}
		h.Current = h.Current.WithWriteLocked(true)
		if !l.table.EntryAtomicUpdate(h) {
			l.table.EntryReread(h)
			continue
		}
		break
	}

	// Drain phase: write_lock is now visible, so no new readers can enter.
	for h.Current.ReadLocks() > 0 {
		if !waitOrTimeout(start, timeoutMs) {
			l.releaseWriteLockBestEffort(h)
			return status.LockTimeout
		}
		l.table.EntryReread(h)
	}
	return status.OK
}

// ReleaseWriteLock clears the write-lock bit, retrying the CAS until it
// lands.
func (l *Locker) ReleaseWriteLock(h *cidtable.Handle) {
	for {
		h.Current = h.Current.WithWriteLocked(false)
		if l.table.EntryAtomicUpdate(h) {
			return
		}
		l.table.EntryReread(h)
	}
}

// releaseWriteLockBestEffort is used only on a drain-phase timeout, where
// the caller already owns the write-lock bit and must give it back.
func (l *Locker) releaseWriteLockBestEffort(h *cidtable.Handle) {
	l.table.EntryReread(h)
	l.ReleaseWriteLock(h)
}
